package node

import (
	"time"

	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/wire"
)

// Context is a worker's or processor's handle onto the node: its own
// mailbox queue, its address, and the operations that reach the router.
// A Context is not safe for concurrent use by more than one goroutine,
// mirroring the single-threaded-handler guarantee a Worker relies on.
type Context struct {
	node    *Node
	address wire.Address
	queue   chan wire.RelayMessage
	cluster string
}

// Address returns the main address this context is bound to.
func (c *Context) Address() wire.Address {
	return c.address
}

// Send delivers payload along route, using this context's own address as
// the message's source and as the first hop of the return route.
func (c *Context) Send(route wire.Route, payload []byte) error {
	return c.SendFromAddress(route, payload, c.address)
}

// SendFromAddress is Send, but lets a worker with multiple mailboxes pick
// which of its own addresses the message appears to originate from.
func (c *Context) SendFromAddress(route wire.Route, payload []byte, from wire.Address) error {
	dest, err := route.Next()
	if err != nil {
		return err
	}
	tm := wire.NewTransportMessage(route.Step(), wire.NewRoute(from), payload)
	return c.node.router.route(wire.RelayMessage{
		Source:      from,
		Destination: dest,
		Local:       wire.NewLocalMessage(tm),
	})
}

// Forward relays an already-constructed LocalMessage along its current
// onward route without rebuilding it, as a transport or secure channel
// decryptor does with the plaintext it recovers. The source of the relay
// is this context's own address.
func (c *Context) Forward(lm wire.LocalMessage) error {
	return c.DeliverFrom(lm, c.address)
}

// DeliverFrom is Forward but lets the caller name the source address the
// router should evaluate outgoing access control against -- used by
// transports injecting a message that arrived over the wire, where the
// true source is the remote peer's transport address, not the context
// doing the decoding.
func (c *Context) DeliverFrom(lm wire.LocalMessage, from wire.Address) error {
	dest, err := lm.Transport.OnwardRoute.Next()
	if err != nil {
		return err
	}
	lm.Transport.OnwardRoute = lm.Transport.OnwardRoute.Step()
	return c.node.router.route(wire.RelayMessage{
		Source:      from,
		Destination: dest,
		Local:       lm,
	})
}

// Receive blocks for the next message delivered to this context's main
// mailbox, or until ctxDone fires.
func (c *Context) Receive(ctxDone <-chan struct{}) (wire.RelayMessage, error) {
	select {
	case msg, ok := <-c.queue:
		if !ok {
			return wire.RelayMessage{}, ockamerr.New(ockamerr.OriginNode, ockamerr.KindShutdown, "mailbox closed")
		}
		return msg, nil
	case <-ctxDone:
		return wire.RelayMessage{}, ockamerr.New(ockamerr.OriginNode, ockamerr.KindCancelled, "receive cancelled")
	}
}

// ReceiveExtended is Receive with a timeout instead of an external done
// channel.
func (c *Context) ReceiveExtended(timeout time.Duration) (wire.RelayMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-c.queue:
		if !ok {
			return wire.RelayMessage{}, ockamerr.New(ockamerr.OriginNode, ockamerr.KindShutdown, "mailbox closed")
		}
		return msg, nil
	case <-timer.C:
		return wire.RelayMessage{}, ockamerr.New(ockamerr.OriginNode, ockamerr.KindTimeout, "receive timed out")
	}
}

// SendAndReceive sends payload along route from a fresh detached context
// and waits up to timeout for a single reply, addressed to that detached
// context's return-route hop.
func (c *Context) SendAndReceive(route wire.Route, payload []byte, timeout time.Duration) (wire.RelayMessage, error) {
	reply, err := c.NewDetached(ac.AllowAll(), ac.AllowAllOutgoing())
	if err != nil {
		return wire.RelayMessage{}, err
	}
	defer reply.Close()

	if err := reply.Send(route, payload); err != nil {
		return wire.RelayMessage{}, err
	}
	return reply.ReceiveExtended(timeout)
}

// StartWorker registers w's mailboxes with the node and starts its
// dispatch goroutine. The worker's Initialize is called synchronously,
// before StartWorker returns, so setup errors surface to the caller.
func (c *Context) StartWorker(w Worker, mb Mailboxes) error {
	return c.node.startLoop(workerAdapter{w: w}, mb, c.cluster)
}

// StartProcessor is StartWorker for a Processor-shaped implementation.
func (c *Context) StartProcessor(p Processor, mb Mailboxes) error {
	return c.node.startLoop(p, mb, c.cluster)
}

// StopWorker stops the worker or processor whose main address is addr.
func (c *Context) StopWorker(addr wire.Address) error {
	return c.node.stopLoop(addr)
}

// StopProcessor is an alias for StopWorker; the runtime treats both the
// same way once registered.
func (c *Context) StopProcessor(addr wire.Address) error {
	return c.node.stopLoop(addr)
}

// Stop shuts down the whole node this context belongs to.
func (c *Context) Stop() error {
	return c.node.Stop(DefaultShutdownTimeout)
}

// NewDetached creates a lightweight context bound to a fresh, randomly
// addressed mailbox with no owning worker loop -- used for one-off
// request/response exchanges such as SendAndReceive.
func (c *Context) NewDetached(incoming ac.IncomingAccessControl, outgoing ac.OutgoingAccessControl) (*Context, error) {
	return c.node.newDetached(incoming, outgoing)
}

// Close tears down a detached context's mailbox. It must not be called on
// a context backing a running Worker or Processor; use StopWorker for
// those.
func (c *Context) Close() {
	c.detachedStop()
}
