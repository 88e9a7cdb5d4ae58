package forwarder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// echoWorker replies with the exact payload it receives, addressed back
// along whatever return route the message carried.
type echoWorker struct {
	received chan wire.RelayMessage
}

func (w *echoWorker) Initialize(ctx *node.Context) error { return nil }

func (w *echoWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	w.received <- msg
	return ctx.Send(msg.Local.Transport.ReturnRoute, msg.Local.Transport.Payload)
}

func (w *echoWorker) Shutdown(ctx *node.Context) error { return nil }

func TestRemoteForwarderRegistersAndRelays(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	hubAddr := wire.NewLocalAddress("hub")
	_, err := ListenHub(n, hubAddr, log)
	require.NoError(t, err)

	echoAddr := wire.NewLocalAddress("echo")
	echo := &echoWorker{received: make(chan wire.RelayMessage, 4)}
	echoCtx, err := n.NewContext(wire.NewLocalAddress("echo-owner"))
	require.NoError(t, err)
	require.NoError(t, echoCtx.StartWorker(echo, node.NewMailboxes(node.NewMailbox(echoAddr, ac.AllowAll(), ac.AllowAllOutgoing()))))

	fw, err := Register(n, wire.NewRoute(hubAddr), "", Options{HeartbeatInterval: time.Hour})
	require.NoError(t, err)
	require.Len(t, fw.ForwardingRoute, 1)

	client, err := n.NewContext(wire.NewLocalAddress("client"))
	require.NoError(t, err)

	route := append(fw.ForwardingRoute.Clone(), echoAddr)
	require.NoError(t, client.Send(route, []byte("hello")))

	select {
	case msg := <-echo.received:
		assert.Equal(t, "hello", string(msg.Local.Transport.Payload))
	case <-time.After(time.Second):
		t.Fatal("echo worker never saw the relayed payload")
	}

	reply, err := client.ReceiveExtended(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(reply.Local.Transport.Payload))
}

func TestRemoteForwarderStaticAlias(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	hubAddr := wire.NewLocalAddress("hub")
	_, err := ListenHub(n, hubAddr, log)
	require.NoError(t, err)

	fw, err := Register(n, wire.NewRoute(hubAddr), "my-alias", Options{HeartbeatInterval: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, wire.NewLocalAddress("hub.my-alias"), fw.ForwardingRoute[0])
}

func TestForwarderHeartbeatRefreshesRegistration(t *testing.T) {
	log := logger.NewDefaultLogger()
	n := node.NewNode(log)

	hubAddr := wire.NewLocalAddress("hub")
	_, err := ListenHub(n, hubAddr, log)
	require.NoError(t, err)

	echoAddr := wire.NewLocalAddress("echo")
	echo := &echoWorker{received: make(chan wire.RelayMessage, 4)}
	echoCtx, err := n.NewContext(wire.NewLocalAddress("echo-owner"))
	require.NoError(t, err)
	require.NoError(t, echoCtx.StartWorker(echo, node.NewMailboxes(node.NewMailbox(echoAddr, ac.AllowAll(), ac.AllowAllOutgoing()))))

	fw, err := Register(n, wire.NewRoute(hubAddr), "ticking", Options{HeartbeatInterval: 30 * time.Millisecond})
	require.NoError(t, err)
	defer fw.Close()

	// Let the heartbeat re-send the registration payload to the hub a few
	// times, then check the alias still relays to the forwarder.
	time.Sleep(100 * time.Millisecond)

	client, err := n.NewContext(wire.NewLocalAddress("client"))
	require.NoError(t, err)
	require.NoError(t, client.Send(append(fw.ForwardingRoute.Clone(), echoAddr), []byte("after-heartbeat")))

	select {
	case msg := <-echo.received:
		assert.Equal(t, "after-heartbeat", string(msg.Local.Transport.Payload))
	case <-time.After(time.Second):
		t.Fatal("forwarder stopped relaying after its heartbeat re-registrations")
	}
}
