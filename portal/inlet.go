package portal

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// Inlet listens on a TCP bind address and bridges every accepted
// connection across OutletRoute: a per-direction pair, mirroring the
// transport packages' senderWorker-plus-read-loop shape.
type Inlet struct {
	ln         net.Listener
	node       *node.Node
	route      wire.Route
	maxPayload int
	log        logger.Logger

	mu    sync.Mutex
	conns map[wire.Address]net.Conn
}

// Listen starts accepting TCP connections on bindAddr and bridging each
// one across route to the outlet addressed at its far end.
func Listen(n *node.Node, bindAddr string, route wire.Route, log logger.Logger) (*Inlet, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	in := &Inlet{
		ln:         ln,
		node:       n,
		route:      route,
		maxPayload: DefaultMaxPayloadSize,
		log:        log,
		conns:      make(map[wire.Address]net.Conn),
	}
	go in.acceptLoop()
	return in, nil
}

// Addr returns the address the inlet is bound to.
func (in *Inlet) Addr() net.Addr {
	return in.ln.Addr()
}

// Close stops accepting new connections; already-accepted ones run to
// completion or until their own Disconnect.
func (in *Inlet) Close() error {
	return in.ln.Close()
}

func (in *Inlet) acceptLoop() {
	for {
		conn, err := in.ln.Accept()
		if err != nil {
			return
		}
		go in.serve(conn)
	}
}

// forwarderWorker is the inlet's route-to-TCP direction: messages routed
// to its address are decoded as PortalMessage and written to conn.
type forwarderWorker struct {
	conn       net.Conn
	disconnect *disconnectState
	log        logger.Logger
}

func (f *forwarderWorker) Initialize(ctx *node.Context) error { return nil }

func (f *forwarderWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	pm, err := wire.DecodePortalMessage(msg.Local.Transport.Payload)
	if err != nil {
		return err
	}
	switch pm.Tag {
	case wire.PortalPong, wire.PortalPing:
		return nil
	case wire.PortalPayload:
		if _, err := f.conn.Write(pm.Payload); err != nil {
			if f.disconnect.trigger() {
				f.conn.Close()
			}
			return err
		}
		return nil
	case wire.PortalDisconnect:
		if f.disconnect.trigger() {
			f.conn.Close()
		}
		return nil
	default:
		return nil
	}
}

func (f *forwarderWorker) Shutdown(ctx *node.Context) error { return nil }

// serve registers one forwarderWorker for conn's incoming direction, then
// runs the TCP read loop that chunks conn's outgoing bytes into Payload
// frames on the calling goroutine -- conn's outgoing direction -- until
// EOF, a write error, or a received Disconnect stops it.
func (in *Inlet) serve(conn net.Conn) {
	addr := wire.NewLocalAddress("_internals.portal.inlet." + uuid.NewString())

	in.mu.Lock()
	in.conns[addr] = conn
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		delete(in.conns, addr)
		in.mu.Unlock()
	}()

	defer conn.Close()

	root, err := in.node.NewContext(wire.NewLocalAddress(addr.Value + ".io"))
	if err != nil {
		in.log.Error("portal: failed to create inlet context", logger.Error(err))
		return
	}
	defer root.Close()

	disconnect := &disconnectState{}
	fw := &forwarderWorker{conn: conn, disconnect: disconnect, log: in.log}
	if err := root.StartWorker(fw, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		in.log.Error("portal: failed to register forwarder worker", logger.Error(err))
		return
	}
	defer root.StopWorker(addr)

	// Ping announces this inlet to the outlet so it can lazily dial its
	// peer; the return route it carries (addr) is where Pong and every
	// subsequent Payload frame for this connection will be sent.
	if err := root.SendFromAddress(in.route, wire.Ping().Encode(), addr); err != nil {
		in.log.Warn("portal: failed to send inlet ping", logger.String("bind", in.ln.Addr().String()), logger.Error(err))
		return
	}

	buf := make([]byte, in.maxPayload)
	for {
		if disconnect.isSet() {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := root.SendFromAddress(in.route, wire.Payload(chunk).Encode(), addr); sendErr != nil {
				in.log.Debug("portal: inlet payload undeliverable", logger.Error(sendErr))
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				in.log.Debug("portal: inlet read error", logger.Error(err))
			}
			if disconnect.trigger() {
				_ = root.SendFromAddress(in.route, wire.Disconnect().Encode(), addr)
			}
			return
		}
	}
}
