package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/wire"
)

// echoWorker replies to every message with the same payload, sent back
// along the message's return route.
type echoWorker struct {
	initialized bool
	shutdown    bool
}

func (w *echoWorker) Initialize(ctx *Context) error {
	w.initialized = true
	return nil
}

func (w *echoWorker) HandleMessage(ctx *Context, msg wire.RelayMessage) error {
	return ctx.Forward(wire.LocalMessage{
		Transport: wire.NewTransportMessage(
			msg.Local.Transport.ReturnRoute,
			wire.NewRoute(ctx.Address()),
			msg.Local.Transport.Payload,
		),
	})
}

func (w *echoWorker) Shutdown(ctx *Context) error {
	w.shutdown = true
	return nil
}

func TestSendAndReceiveEcho(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	w := &echoWorker{}
	echoAddr := wire.NewLocalAddress("echo")
	require.NoError(t, root.StartWorker(w, NewMailboxes(NewMailbox(echoAddr, ac.AllowAll(), ac.AllowAllOutgoing()))))

	reply, err := root.SendAndReceive(wire.NewRoute(echoAddr), []byte("hello"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), reply.Local.Transport.Payload)

	require.NoError(t, root.StopWorker(echoAddr))
	assert.True(t, w.initialized)
	assert.True(t, w.shutdown)
}

func TestSendToUnknownAddressFails(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	err = root.Send(wire.NewRoute(wire.NewLocalAddress("nobody")), []byte("x"))
	assert.Error(t, err)
}

// recordingWorker notes every message it is handed, so a test can assert
// a message never arrived rather than inspecting Send's return value.
type recordingWorker struct {
	handled chan wire.RelayMessage
}

func (w *recordingWorker) Initialize(ctx *Context) error { return nil }

func (w *recordingWorker) HandleMessage(ctx *Context, msg wire.RelayMessage) error {
	w.handled <- msg
	return nil
}

func (w *recordingWorker) Shutdown(ctx *Context) error { return nil }

func TestIncomingAccessControlRejectsMessage(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	w := &recordingWorker{handled: make(chan wire.RelayMessage, 1)}
	guarded := wire.NewLocalAddress("guarded")
	onlyFriend := ac.AllowSourceAddress(wire.NewLocalAddress("friend"))
	require.NoError(t, root.StartWorker(w, NewMailboxes(NewMailbox(guarded, onlyFriend, ac.AllowAllOutgoing()))))

	// Send itself must not reveal that access control denied the message:
	// only resolution failures (no such address) are returned as errors.
	err = root.Send(wire.NewRoute(guarded), []byte("hi"))
	assert.NoError(t, err)

	select {
	case msg := <-w.handled:
		t.Fatalf("access control should have dropped the message, but worker received %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiveExtendedTimesOut(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	_, err = root.ReceiveExtended(10 * time.Millisecond)
	assert.Error(t, err)
}

func TestStartWorkerDuplicateAddressFails(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	addr := wire.NewLocalAddress("dup")
	require.NoError(t, root.StartWorker(&echoWorker{}, NewMailboxes(NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing()))))
	err = root.StartWorker(&echoWorker{}, NewMailboxes(NewMailbox(addr, ac.AllowAll(), ac.AllowAllOutgoing())))
	assert.Error(t, err)
}

func TestNodeStopStopsAllWorkers(t *testing.T) {
	n := NewNode(nil)
	root, err := n.NewContext(wire.NewLocalAddress("app"))
	require.NoError(t, err)

	w1, w2 := &echoWorker{}, &echoWorker{}
	require.NoError(t, root.StartWorker(w1, NewMailboxes(NewMailbox(wire.NewLocalAddress("w1"), ac.AllowAll(), ac.AllowAllOutgoing()))))
	require.NoError(t, root.StartWorker(w2, NewMailboxes(NewMailbox(wire.NewLocalAddress("w2"), ac.AllowAll(), ac.AllowAllOutgoing()))))

	require.NoError(t, n.Stop(time.Second))
	assert.True(t, w1.shutdown)
	assert.True(t, w2.shutdown)
}
