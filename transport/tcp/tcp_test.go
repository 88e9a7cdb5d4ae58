package tcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// captureWorker records every payload it is handed.
type captureWorker struct {
	received chan []byte
}

func (w *captureWorker) Initialize(ctx *node.Context) error { return nil }

func (w *captureWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	w.received <- msg.Local.Transport.Payload
	return nil
}

func (w *captureWorker) Shutdown(ctx *node.Context) error { return nil }

func TestTCPRoundTripAcrossTwoNodes(t *testing.T) {
	server := node.NewNode(nil)
	srvRoot, err := server.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	echo := &captureWorker{received: make(chan []byte, 1)}
	require.NoError(t, srvRoot.StartWorker(echo, node.NewMailboxes(
		node.NewMailbox(wire.NewLocalAddress("echo"), ac.AllowAll(), ac.AllowAllOutgoing()))))

	ln, err := Listen(server, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	client := node.NewNode(nil)
	clientRoot, err := client.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	connAddr, err := Dial(context.Background(), client, ln.Addr().String(), nil)
	require.NoError(t, err)

	route := wire.NewRoute(connAddr, wire.NewLocalAddress("echo"))
	require.NoError(t, clientRoot.Send(route, []byte("ping-over-tcp")))

	select {
	case payload := <-echo.received:
		assert.Equal(t, []byte("ping-over-tcp"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message to cross the TCP connection")
	}
}

func TestDialUnreachableAddressFails(t *testing.T) {
	client := node.NewNode(nil)
	_, err := Dial(context.Background(), client, "127.0.0.1:1", nil)
	assert.Error(t, err)
}
