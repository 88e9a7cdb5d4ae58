package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
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

func TestWebSocketRoundTripAcrossTwoNodes(t *testing.T) {
	server := node.NewNode(nil)
	srvRoot, err := server.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	echo := &captureWorker{received: make(chan []byte, 1)}
	require.NoError(t, srvRoot.StartWorker(echo, node.NewMailboxes(
		node.NewMailbox(wire.NewLocalAddress("echo"), ac.AllowAll(), ac.AllowAllOutgoing()))))

	wsServer := NewServer(server, nil)
	httpSrv := httptest.NewServer(wsServer.Handler())
	defer httpSrv.Close()
	defer wsServer.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	client := node.NewNode(nil)
	clientRoot, err := client.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	connAddr, err := Dial(context.Background(), client, url, nil)
	require.NoError(t, err)

	route := wire.NewRoute(connAddr, wire.NewLocalAddress("echo"))
	require.NoError(t, clientRoot.Send(route, []byte("ping-over-ws")))

	select {
	case payload := <-echo.received:
		assert.Equal(t, []byte("ping-over-ws"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message to cross the websocket connection")
	}
}
