// Package websocket implements an optional transport for environments
// that need a transport traversing ordinary HTTP infrastructure: one
// TransportMessage per WebSocket binary message, framing-free like UDP
// since the protocol itself preserves message boundaries.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

const (
	defaultReadTimeout  = 60 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

// Server upgrades incoming HTTP connections to WebSocket and routes
// every binary message they carry into the node, the same way the tcp
// transport routes TCP frames.
type Server struct {
	node     *node.Node
	log      logger.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[wire.Address]*websocket.Conn
}

// NewServer builds a Server delivering into n. CheckOrigin is left
// permissive; callers exposed to untrusted origins should wrap the
// returned http.Handler with their own origin check.
func NewServer(n *node.Node, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		node: n,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[wire.Address]*websocket.Conn),
	}
}

// Handler returns an http.Handler that upgrades the connection and
// serves it until the peer disconnects.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
			return
		}
		addr := wire.Address{Type: wire.TransportWS, Value: conn.RemoteAddr().String()}
		s.mu.Lock()
		s.conns[addr] = conn
		s.mu.Unlock()

		runConnection(s.node, conn, addr, s.log)

		s.mu.Lock()
		delete(s.conns, addr)
		s.mu.Unlock()
	})
}

// Close terminates every connection the server has accepted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, conn := range s.conns {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
		delete(s.conns, addr)
	}
	return nil
}

// Dial opens an outgoing WebSocket connection to url (ws:// or wss://)
// and registers it into n under a TransportWS address.
func Dial(ctx context.Context, n *node.Node, url string, log logger.Logger) (wire.Address, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return wire.Address{}, err
	}
	addr := wire.Address{Type: wire.TransportWS, Value: url}
	go runConnection(n, conn, addr, log)
	return addr, nil
}

func runConnection(n *node.Node, conn *websocket.Conn, addr wire.Address, log logger.Logger) {
	defer conn.Close()

	root, err := n.NewContext(wire.NewLocalAddress("_internals.transport.ws." + addr.Value))
	if err != nil {
		log.Error("websocket: failed to create connection context", logger.String("peer", addr.Value), logger.Error(err))
		return
	}

	sender := &senderWorker{conn: conn}
	if err := root.StartWorker(sender, node.NewMailboxes(node.NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		log.Error("websocket: failed to register connection worker", logger.String("peer", addr.Value), logger.Error(err))
		return
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug("websocket: connection closed", logger.String("peer", addr.Value), logger.Error(err))
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		tm, err := wire.Decode(data)
		if err != nil {
			log.Warn("websocket: dropping malformed message", logger.String("peer", addr.Value), logger.Error(err))
			continue
		}
		// Grow the return route with this side's address for the
		// connection, so a reply routes back out over the same socket.
		tm.ReturnRoute = append(wire.Route{addr}, tm.ReturnRoute...)
		if err := root.DeliverFrom(wire.NewLocalMessage(tm), addr); err != nil {
			log.Debug("websocket: undeliverable message", logger.String("peer", addr.Value), logger.Error(err))
		}
	}

	_ = root.StopWorker(addr)
}

type senderWorker struct {
	conn *websocket.Conn
}

func (w *senderWorker) Initialize(ctx *node.Context) error { return nil }

func (w *senderWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	encoded, err := msg.Local.Transport.Encode()
	if err != nil {
		return err
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func (w *senderWorker) Shutdown(ctx *node.Context) error { return nil }
