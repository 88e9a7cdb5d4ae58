package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

type captureWorker struct {
	received chan []byte
}

func (w *captureWorker) Initialize(ctx *node.Context) error { return nil }

func (w *captureWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	w.received <- msg.Local.Transport.Payload
	return nil
}

func (w *captureWorker) Shutdown(ctx *node.Context) error { return nil }

func TestUDPRoundTripAcrossTwoNodes(t *testing.T) {
	server := node.NewNode(nil)
	srvRoot, err := server.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	echo := &captureWorker{received: make(chan []byte, 1)}
	require.NoError(t, srvRoot.StartWorker(echo, node.NewMailboxes(
		node.NewMailbox(wire.NewLocalAddress("echo"), ac.AllowAll(), ac.AllowAllOutgoing()))))

	srvSocket, err := Listen(server, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer srvSocket.Close()

	client := node.NewNode(nil)
	clientRoot, err := client.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	clientSocket, err := Listen(client, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer clientSocket.Close()

	peer, err := clientSocket.Peer(srvSocket.Addr().String())
	require.NoError(t, err)

	route := wire.NewRoute(peer, wire.NewLocalAddress("echo"))
	require.NoError(t, clientRoot.Send(route, []byte("ping-over-udp")))

	select {
	case payload := <-echo.received:
		assert.Equal(t, []byte("ping-over-udp"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram to cross the socket")
	}
}
