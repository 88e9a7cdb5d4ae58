// Package tcp implements the node runtime's default transport: TCP
// connections carrying 4-byte length-prefixed TransportMessage frames,
// each accepted or dialed connection registered into the router under
// its own Address so ordinary Send calls can reach it like any worker.
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/transport"
	"github.com/build-trust/ockam-go/wire"
)

// Listener owns a TCP listener and the node it delivers accepted
// connections' traffic into.
type Listener struct {
	ln   net.Listener
	node *node.Node
	log  logger.Logger

	mu    sync.Mutex
	conns map[wire.Address]net.Conn
}

// Listen starts accepting TCP connections on bindAddr (host:port) and
// routes every frame they carry through n. Call Close to stop accepting
// and tear down every connection it opened.
func Listen(n *node.Node, bindAddr string, log logger.Logger) (*Listener, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	l := &Listener{ln: ln, node: n, log: log, conns: make(map[wire.Address]net.Conn)}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections. Already-registered connection
// workers are left running; stop them individually via the node's
// context if a clean shutdown is required.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	addr := wire.Address{Type: wire.TransportTCP, Value: conn.RemoteAddr().String()}
	l.mu.Lock()
	l.conns[addr] = conn
	l.mu.Unlock()

	runConnection(l.node, conn, addr, l.log)

	l.mu.Lock()
	delete(l.conns, addr)
	l.mu.Unlock()
}

// Dial opens an outgoing TCP connection to remoteAddr (host:port) and
// registers it the same way an accepted connection is registered: other
// workers reach it by sending to wire.Address{Type: TransportTCP, Value:
// remoteAddr}.
func Dial(ctx context.Context, n *node.Node, remoteAddr string, log logger.Logger) (wire.Address, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", remoteAddr)
	if err != nil {
		return wire.Address{}, err
	}
	addr := wire.Address{Type: wire.TransportTCP, Value: remoteAddr}
	go runConnection(n, conn, addr, log)
	return addr, nil
}

// runConnection registers addr as a worker address backed by conn, then
// blocks reading frames off conn until it closes or errors; each frame
// decodes to a TransportMessage and is routed into the node exactly as
// if a local worker had sent it, with addr as the message's source.
func runConnection(n *node.Node, conn net.Conn, addr wire.Address, log logger.Logger) {
	defer conn.Close()

	root, err := n.NewContext(wire.NewLocalAddress("_internals.transport.tcp." + addr.Value))
	if err != nil {
		log.Error("tcp: failed to create connection context", logger.String("peer", addr.Value), logger.Error(err))
		return
	}

	sender := &senderWorker{conn: conn}
	err = root.StartWorker(sender, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing())))
	if err != nil {
		log.Error("tcp: failed to register connection worker", logger.String("peer", addr.Value), logger.Error(err))
		return
	}

	reader := bufio.NewReader(conn)
	for {
		frame, err := transport.ReadFrame(reader)
		if err != nil {
			log.Debug("tcp: connection closed", logger.String("peer", addr.Value), logger.Error(err))
			break
		}
		tm, err := wire.Decode(frame)
		if err != nil {
			log.Warn("tcp: dropping malformed frame", logger.String("peer", addr.Value), logger.Error(err))
			continue
		}
		// Grow the return route with this side's address for the
		// connection, so a reply routes back out over the same socket
		// without the sender having to know our ephemeral identity for it.
		tm.ReturnRoute = append(wire.Route{addr}, tm.ReturnRoute...)
		lm := wire.NewLocalMessage(tm)
		if err := root.DeliverFrom(lm, addr); err != nil {
			log.Debug("tcp: undeliverable frame", logger.String("peer", addr.Value), logger.Error(err))
		}
	}

	_ = root.StopWorker(addr)
}

// senderWorker writes every message routed to its address onto the
// underlying TCP connection, framed with transport.WriteFrame.
type senderWorker struct {
	conn net.Conn
}

func (s *senderWorker) Initialize(ctx *node.Context) error { return nil }

func (s *senderWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	encoded, err := msg.Local.Transport.Encode()
	if err != nil {
		return err
	}
	return transport.WriteFrame(s.conn, encoded)
}

func (s *senderWorker) Shutdown(ctx *node.Context) error { return nil }
