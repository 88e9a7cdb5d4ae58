// Package udp implements an unreliable, connectionless transport: one
// TransportMessage per UDP datagram, no framing needed since the kernel
// preserves datagram boundaries. Datagrams may be lost or reordered; the
// secure channel's record layer treats a lost or reordered record as
// fatal to the channel.
package udp

import (
	"net"
	"sync"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// MinMTU is the floor this transport assumes for path MTU; callers
// sending payloads larger than this risk IP fragmentation.
const MinMTU = 1200

// Socket owns one bound UDP socket shared by every peer address it talks
// to: a single goroutine demultiplexes inbound datagrams by source
// address into the node's router, and a fan-out worker is registered
// per peer the first time a message addresses it.
type Socket struct {
	conn *net.UDPConn
	node *node.Node
	log  logger.Logger

	mu    sync.Mutex
	peers map[string]bool
}

// Listen binds a UDP socket on bindAddr and begins demultiplexing
// inbound datagrams into n.
func Listen(n *node.Node, bindAddr string, log logger.Logger) (*Socket, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	s := &Socket{conn: conn, node: n, log: log, peers: make(map[string]bool)}
	go s.readLoop()
	return s, nil
}

// Addr returns the local address the socket is bound to.
func (s *Socket) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

func (s *Socket) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		s.deliver(buf[:n], peer)
	}
}

func (s *Socket) deliver(datagram []byte, peer *net.UDPAddr) {
	tm, err := wire.Decode(datagram)
	if err != nil {
		s.log.Warn("udp: dropping malformed datagram", logger.String("peer", peer.String()), logger.Error(err))
		return
	}
	addr := wire.Address{Type: wire.TransportUDP, Value: peer.String()}
	s.ensurePeerWorker(addr, peer)

	// Grow the return route with this side's address for the peer, so a
	// reply routes back out over the same socket.
	tm.ReturnRoute = append(wire.Route{addr}, tm.ReturnRoute...)

	root, err := s.node.NewContext(wire.NewLocalAddress("_internals.transport.udp.rx." + peer.String()))
	if err != nil {
		return
	}
	defer root.Close()
	if err := root.DeliverFrom(wire.NewLocalMessage(tm), addr); err != nil {
		s.log.Debug("udp: undeliverable datagram", logger.String("peer", peer.String()), logger.Error(err))
	}
}

// ensurePeerWorker registers, at most once, a sender worker addressed as
// this peer so local workers can route outbound traffic to it.
func (s *Socket) ensurePeerWorker(addr wire.Address, peer *net.UDPAddr) {
	s.mu.Lock()
	if s.peers[addr.Value] {
		s.mu.Unlock()
		return
	}
	s.peers[addr.Value] = true
	s.mu.Unlock()

	root, err := s.node.NewContext(wire.NewLocalAddress("_internals.transport.udp.tx." + addr.Value))
	if err != nil {
		return
	}
	sender := &senderWorker{conn: s.conn, peer: peer}
	_ = root.StartWorker(sender, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing())))
}

// Peer registers a remote peer without having received a datagram from
// it yet, so the first outbound Send doesn't race the read loop.
func (s *Socket) Peer(remoteAddr string) (wire.Address, error) {
	peer, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return wire.Address{}, err
	}
	addr := wire.Address{Type: wire.TransportUDP, Value: peer.String()}
	s.ensurePeerWorker(addr, peer)
	return addr, nil
}

type senderWorker struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

func (w *senderWorker) Initialize(ctx *node.Context) error { return nil }

func (w *senderWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	encoded, err := msg.Local.Transport.Encode()
	if err != nil {
		return err
	}
	// Sent regardless of MinMTU: fragmentation is a link-quality concern,
	// not a reason to drop a message silently.
	_, err = w.conn.WriteToUDP(encoded, w.peer)
	return err
}

func (w *senderWorker) Shutdown(ctx *node.Context) error { return nil }
