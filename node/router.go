package node

import (
	"sync"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/wire"
)

// binding is what the router keeps per registered address: the access
// control pair evaluated against messages crossing that address, and the
// queue messages addressed to it land on.
type binding struct {
	incoming ac.IncomingAccessControl
	outgoing ac.OutgoingAccessControl
	queue    chan wire.RelayMessage
}

// Router is the node's sole mutable shared state: a map from Address to
// binding. The mutex is held only across the map lookup/insert/delete
// itself, never across message delivery, so one slow mailbox never stalls
// routing to any other (spec §5: "the router's critical section is the
// map operation, not the delivery").
type Router struct {
	mu    sync.Mutex
	table map[wire.Address]*binding
	log   logger.Logger
}

func newRouter(log logger.Logger) *Router {
	return &Router{table: make(map[wire.Address]*binding), log: log}
}

// register installs a mailbox and returns the channel its owner should
// read from.
func (r *Router) register(mb Mailbox, capacity int) (chan wire.RelayMessage, error) {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.table[mb.Address]; exists {
		return nil, ockamerr.New(ockamerr.OriginNode, ockamerr.KindAlreadyExists, mb.Address.String())
	}
	q := make(chan wire.RelayMessage, capacity)
	r.table[mb.Address] = &binding{incoming: mb.IncomingAC, outgoing: mb.OutgoingAC, queue: q}
	return q, nil
}

func (r *Router) deregister(addr wire.Address) {
	r.mu.Lock()
	b, ok := r.table[addr]
	delete(r.table, addr)
	r.mu.Unlock()
	if ok {
		close(b.queue)
	}
}

func (r *Router) lookup(addr wire.Address) (*binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.table[addr]
	return b, ok
}

// route delivers msg to its destination, enforcing the four-step relay
// contract of spec §5: resolve destination, evaluate source's outgoing AC,
// evaluate destination's incoming AC, then enqueue (blocking on a full
// queue provides backpressure to the caller). Per spec §7, a message an
// access control rejects is logged and dropped, never surfaced to the
// sender: Send's return value must not let a caller distinguish "denied"
// from "delivered". Only resolution failure (no such address) is returned,
// since that is a routing error, not an access control outcome.
func (r *Router) route(msg wire.RelayMessage) error {
	dest, ok := r.lookup(msg.Destination)
	if !ok {
		return ockamerr.New(ockamerr.OriginNode, ockamerr.KindNotFound, "no such address: "+msg.Destination.String())
	}

	if src, ok := r.lookup(msg.Source); ok {
		if !src.outgoing.IsAuthorized(msg) {
			r.log.Warn("message rejected by source outgoing access control",
				logger.String("source", msg.Source.String()),
				logger.String("destination", msg.Destination.String()))
			return nil
		}
	}

	if !dest.incoming.IsAuthorized(msg) {
		r.log.Warn("message rejected by destination incoming access control",
			logger.String("source", msg.Source.String()),
			logger.String("destination", msg.Destination.String()))
		return nil
	}

	dest.queue <- msg
	return nil
}
