package portal

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/wire"
)

// outletSession is the TCP state an Outlet installs the first time an
// inlet's Ping arrives; it holds no state before that.
type outletSession struct {
	conn       net.Conn
	disconnect *disconnectState
}

// Outlet is addressed by one or more inlets. It dials PeerAddr lazily,
// the first time a given inlet's Ping arrives, keyed by that inlet's
// return route -- so a single Outlet worker can bridge many concurrent
// inlet connections to the same TCP peer.
type Outlet struct {
	node       *node.Node
	peerAddr   string
	maxPayload int
	log        logger.Logger

	ctx *node.Context

	mu       sync.Mutex
	sessions map[string]*outletSession
}

// NewOutlet builds an Outlet that dials peerAddr on demand.
func NewOutlet(n *node.Node, peerAddr string, log logger.Logger) *Outlet {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Outlet{
		node:       n,
		peerAddr:   peerAddr,
		maxPayload: DefaultMaxPayloadSize,
		log:        log,
		sessions:   make(map[string]*outletSession),
	}
}

// RegisterOutlet registers o as a Worker at addr on n.
func RegisterOutlet(n *node.Node, addr wire.Address, o *Outlet) error {
	root, err := n.NewContext(wire.NewLocalAddress("_internals.portal.outlet." + uuid.NewString()))
	if err != nil {
		return err
	}
	defer root.Close()
	return root.StartWorker(o, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing())))
}

func (o *Outlet) Initialize(ctx *node.Context) error {
	o.ctx = ctx
	return nil
}

func (o *Outlet) Shutdown(ctx *node.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, sess := range o.sessions {
		if sess.disconnect.trigger() {
			sess.conn.Close()
		}
		delete(o.sessions, key)
	}
	return nil
}

func (o *Outlet) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	pm, err := wire.DecodePortalMessage(msg.Local.Transport.Payload)
	if err != nil {
		return nil
	}
	inletRoute := msg.Local.Transport.ReturnRoute
	key := routeKey(inletRoute)

	o.mu.Lock()
	sess, ok := o.sessions[key]
	o.mu.Unlock()

	if !ok {
		if pm.Tag != wire.PortalPing {
			// A session must start with Ping; anything else for an
			// unknown inlet is stale or out of order and is dropped.
			return nil
		}
		sess, err = o.dial(inletRoute, key)
		if err != nil {
			o.log.Warn("portal: outlet dial failed", logger.String("peer", o.peerAddr), logger.Error(err))
			_ = ctx.SendFromAddress(inletRoute, wire.Disconnect().Encode(), ctx.Address())
			return nil
		}
		return ctx.SendFromAddress(inletRoute, wire.Pong().Encode(), ctx.Address())
	}

	switch pm.Tag {
	case wire.PortalPing:
		return ctx.SendFromAddress(inletRoute, wire.Pong().Encode(), ctx.Address())
	case wire.PortalPong:
		return nil
	case wire.PortalPayload:
		if _, err := sess.conn.Write(pm.Payload); err != nil {
			o.teardown(key, sess)
			return ctx.SendFromAddress(inletRoute, wire.Disconnect().Encode(), ctx.Address())
		}
		return nil
	case wire.PortalDisconnect:
		o.teardown(key, sess)
		return nil
	default:
		return nil
	}
}

// dial opens the TCP connection to o.peerAddr and starts the read loop
// that carries its outgoing bytes back to the inlet at inletRoute.
func (o *Outlet) dial(inletRoute wire.Route, key string) (*outletSession, error) {
	conn, err := net.Dial("tcp", o.peerAddr)
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginTransport, ockamerr.KindIO, "dial outlet peer "+o.peerAddr, err)
	}
	sess := &outletSession{conn: conn, disconnect: &disconnectState{}}

	o.mu.Lock()
	o.sessions[key] = sess
	o.mu.Unlock()

	go o.readLoop(sess, inletRoute, key)
	return sess, nil
}

func (o *Outlet) readLoop(sess *outletSession, inletRoute wire.Route, key string) {
	buf := make([]byte, o.maxPayload)
	for {
		if sess.disconnect.isSet() {
			return
		}
		n, err := sess.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := o.ctx.SendFromAddress(inletRoute, wire.Payload(chunk).Encode(), o.ctx.Address()); sendErr != nil {
				o.log.Debug("portal: outlet payload undeliverable", logger.Error(sendErr))
				o.teardown(key, sess)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				o.log.Debug("portal: outlet peer read error", logger.String("peer", o.peerAddr), logger.Error(err))
			}
			if sess.disconnect.trigger() {
				_ = o.ctx.SendFromAddress(inletRoute, wire.Disconnect().Encode(), o.ctx.Address())
			}
			o.forget(key)
			return
		}
	}
}

func (o *Outlet) teardown(key string, sess *outletSession) {
	if sess.disconnect.trigger() {
		sess.conn.Close()
	}
	o.forget(key)
}

func (o *Outlet) forget(key string) {
	o.mu.Lock()
	delete(o.sessions, key)
	o.mu.Unlock()
}
