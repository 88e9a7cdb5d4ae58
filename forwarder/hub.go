package forwarder

import (
	"sync"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// Hub is a minimal forwarding-registration service: it accepts
// registration payloads at Addr, assigns or reuses a per-alias relay
// address, and answers with the route clients should use to reach the
// current registrant for that alias.
type Hub struct {
	addr wire.Address
	log  logger.Logger

	mu     sync.Mutex
	relays map[string]*relayWorker
}

// ListenHub registers a Hub at addr on n.
func ListenHub(n *node.Node, addr wire.Address, log logger.Logger) (*Hub, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	h := &Hub{addr: addr, log: log, relays: make(map[string]*relayWorker)}

	root, err := n.NewContext(wire.NewLocalAddress("_internals.forwarder.hub." + uuid.NewString()))
	if err != nil {
		return nil, err
	}
	defer root.Close()
	if err := root.StartWorker(h, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Hub) Initialize(ctx *node.Context) error { return nil }
func (h *Hub) Shutdown(ctx *node.Context) error    { return nil }

// HandleMessage treats every message addressed to the Hub as a
// registration: payload is either RegisterPayload (the hub assigns a
// fresh alias) or a caller-chosen static alias. Re-registration under the
// same alias simply rebinds the existing relay's target, which is what
// lets a heartbeat keep a static forwarder's route stable across process
// restarts on the registrant's side.
func (h *Hub) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	alias := string(msg.Local.Transport.Payload)
	if alias == "" || alias == RegisterPayload {
		alias = uuid.NewString()
	}
	relayAddr := wire.NewLocalAddress(h.addr.Value + "." + alias)
	forwarderRoute := wire.NewRoute(msg.Source)

	h.mu.Lock()
	rw, exists := h.relays[alias]
	if exists {
		rw.setTarget(forwarderRoute)
	}
	h.mu.Unlock()

	if !exists {
		rw = &relayWorker{target: forwarderRoute}
		if err := ctx.StartWorker(rw, node.NewMailboxes(node.NewMailbox(relayAddr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
			return err
		}
		h.mu.Lock()
		h.relays[alias] = rw
		h.mu.Unlock()
	}

	reply := wire.EncodeRoute(wire.NewRoute(relayAddr))
	return ctx.SendFromAddress(msg.Local.Transport.ReturnRoute, reply, ctx.Address())
}

// relayWorker sits at a hub-assigned alias address and relays whatever it
// receives onward to the currently-registered forwarder, preserving the
// original return route so replies flow straight back to the caller.
type relayWorker struct {
	mu     sync.Mutex
	target wire.Route
}

func (r *relayWorker) setTarget(route wire.Route) {
	r.mu.Lock()
	r.target = route
	r.mu.Unlock()
}

func (r *relayWorker) Initialize(ctx *node.Context) error { return nil }

func (r *relayWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()

	// The forwarder's address is prepended ahead of whatever hops were
	// still left in the caller's onward route (e.g. the worker behind the
	// forwarder that the caller actually meant to reach).
	onward := append(target.Clone(), msg.Local.Transport.OnwardRoute...)
	lm := wire.NewLocalMessage(wire.NewTransportMessage(onward, msg.Local.Transport.ReturnRoute, msg.Local.Transport.Payload))
	return ctx.Forward(lm)
}

func (r *relayWorker) Shutdown(ctx *node.Context) error { return nil }
