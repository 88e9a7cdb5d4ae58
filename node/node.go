// Package node implements the node runtime of spec layer L1: addressed
// workers and processors exchanging messages through a single router,
// under per-mailbox access control.
package node

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/wire"
)

// DefaultCluster is the shutdown group of every worker and processor
// started through a Context; Context offers no way to pick another
// cluster. See Node.Stop for ordering.
const DefaultCluster = "_internals.transport.tcp"

// DefaultShutdownTimeout bounds how long Node.Stop waits for worker
// Shutdown hooks to return before abandoning them.
const DefaultShutdownTimeout = 10 * time.Second

// loopHandle is the node's bookkeeping for one running Worker/Processor.
type loopHandle struct {
	addresses []wire.Address
	cluster   string
	stop      chan struct{}
	stopped   chan struct{}
}

// Node owns the router and the set of running worker/processor loops. A
// process typically constructs exactly one Node.
type Node struct {
	router *Router
	log    logger.Logger

	mu      sync.Mutex
	loops   map[wire.Address]*loopHandle
	stopped bool
}

// NewNode constructs a Node. log may be nil, in which case the package's
// default logger is used.
func NewNode(log logger.Logger) *Node {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	n := &Node{log: log, loops: make(map[wire.Address]*loopHandle)}
	n.router = newRouter(log)
	return n
}

// NewContext builds a root context bound to addr with no owning loop --
// the handle application code uses to start its first workers.
func (n *Node) NewContext(addr wire.Address) (*Context, error) {
	mb := NewMailboxes(NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))
	queue, err := n.router.register(mb.Main, DefaultMailboxCapacity)
	if err != nil {
		return nil, err
	}
	return &Context{node: n, address: addr, queue: queue, cluster: DefaultCluster}, nil
}

func (n *Node) newDetached(incoming ac.IncomingAccessControl, outgoing ac.OutgoingAccessControl) (*Context, error) {
	addr := wire.NewLocalAddress(uuid.NewString())
	mb := NewMailbox(addr, incoming, outgoing)
	queue, err := n.router.register(mb, DefaultMailboxCapacity)
	if err != nil {
		return nil, err
	}
	ctx := &Context{node: n, address: addr, queue: queue, cluster: DefaultCluster}

	n.mu.Lock()
	n.loops[addr] = &loopHandle{addresses: []wire.Address{addr}, cluster: ctx.cluster}
	n.mu.Unlock()

	return ctx, nil
}

// Stop of a detached context just deregisters its one mailbox; it never
// owned a dispatch goroutine.
func (c *Context) detachedStop() {
	c.node.router.deregister(c.address)
	c.node.mu.Lock()
	delete(c.node.loops, c.address)
	c.node.mu.Unlock()
}

// startLoop registers every mailbox of mb, runs loop.Initialize
// synchronously, then spawns the dispatch goroutine.
func (n *Node) startLoop(loop interface {
	Initialize(ctx *Context) error
	Process(ctx *Context) (bool, error)
	Shutdown(ctx *Context) error
}, mb Mailboxes, cluster string) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return ockamerr.New(ockamerr.OriginNode, ockamerr.KindShutdown, "node is stopped")
	}
	n.mu.Unlock()

	all := mb.All()
	addrs := make([]wire.Address, 0, len(all))
	var mainQueue chan wire.RelayMessage
	for i, m := range all {
		q, err := n.router.register(m, DefaultMailboxCapacity)
		if err != nil {
			for _, done := range addrs {
				n.router.deregister(done)
			}
			return err
		}
		addrs = append(addrs, m.Address)
		if i == 0 {
			mainQueue = q
		}
	}

	ctx := &Context{node: n, address: mb.Main.Address, queue: mainQueue, cluster: cluster}

	if err := loop.Initialize(ctx); err != nil {
		for _, a := range addrs {
			n.router.deregister(a)
		}
		return err
	}

	handle := &loopHandle{addresses: addrs, cluster: cluster, stop: make(chan struct{}), stopped: make(chan struct{})}
	n.mu.Lock()
	for _, a := range addrs {
		n.loops[a] = handle
	}
	n.mu.Unlock()

	// A Worker's Process blocks on its queue and would never see
	// handle.stop; deregistering closes the queue, so Process drains what
	// is left and returns.
	go func() {
		select {
		case <-handle.stop:
			for _, a := range addrs {
				n.router.deregister(a)
			}
		case <-handle.stopped:
		}
	}()

	go func() {
		defer close(handle.stopped)
		for {
			select {
			case <-handle.stop:
				_ = loop.Shutdown(ctx)
				for _, a := range addrs {
					n.router.deregister(a)
				}
				return
			default:
			}
			more, err := loop.Process(ctx)
			if err != nil {
				n.log.Error("worker loop exited with error",
					logger.String("address", mb.Main.Address.String()), logger.Error(err))
				_ = loop.Shutdown(ctx)
				for _, a := range addrs {
					n.router.deregister(a)
				}
				return
			}
			if !more {
				_ = loop.Shutdown(ctx)
				for _, a := range addrs {
					n.router.deregister(a)
				}
				return
			}
		}
	}()

	return nil
}

func (n *Node) stopLoop(addr wire.Address) error {
	n.mu.Lock()
	handle, ok := n.loops[addr]
	n.mu.Unlock()
	if !ok {
		return ockamerr.New(ockamerr.OriginNode, ockamerr.KindNotFound, "no such worker: "+addr.String())
	}
	if handle.stop == nil {
		// detached context, no loop goroutine to stop
		n.router.deregister(addr)
		n.mu.Lock()
		delete(n.loops, addr)
		n.mu.Unlock()
		return nil
	}
	select {
	case <-handle.stop:
	default:
		close(handle.stop)
	}
	<-handle.stopped
	n.mu.Lock()
	for _, a := range handle.addresses {
		delete(n.loops, a)
	}
	n.mu.Unlock()
	return nil
}

// Stop shuts down every running worker and processor, grouped by
// cluster: loops outside DefaultCluster are stopped first and
// DefaultCluster's members last. Every loop started through a Context is
// in DefaultCluster, so all of them are stopped together, in no
// particular order. Each loop is given up to timeout to return
// from Shutdown before Stop moves on; a loop that doesn't is reported as
// a timeout error rather than silently ignored.
func (n *Node) Stop(timeout time.Duration) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true

	seen := make(map[*loopHandle]bool)
	var ordinary, internals []*loopHandle
	for _, h := range n.loops {
		if seen[h] {
			continue
		}
		seen[h] = true
		if h.cluster == DefaultCluster {
			internals = append(internals, h)
		} else {
			ordinary = append(ordinary, h)
		}
	}
	n.mu.Unlock()

	stopAll := func(handles []*loopHandle) error {
		var g errgroup.Group
		for _, h := range handles {
			h := h
			if h.stop == nil {
				continue
			}
			g.Go(func() error {
				select {
				case <-h.stop:
				default:
					close(h.stop)
				}
				select {
				case <-h.stopped:
					return nil
				case <-time.After(timeout):
					return ockamerr.New(ockamerr.OriginNode, ockamerr.KindTimeout,
						"worker did not stop before timeout: "+addressesOf(h))
				}
			})
		}
		return g.Wait()
	}

	if err := stopAll(ordinary); err != nil {
		return err
	}
	return stopAll(internals)
}

func addressesOf(h *loopHandle) string {
	if len(h.addresses) == 0 {
		return "<unknown>"
	}
	return h.addresses[0].String()
}
