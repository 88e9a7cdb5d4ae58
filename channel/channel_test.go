package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/identity"
	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/vault"
	"github.com/build-trust/ockam-go/wire"
)

func newStaticKey(t *testing.T, v *vault.Vault) vault.KeyId {
	t.Helper()
	k, err := v.GenerateSecret(context.Background(), vault.SecretAttributes{Type: vault.SecretTypeX25519, Persistence: vault.Persistent})
	require.NoError(t, err)
	return k
}

// delivery is what a captureWorker reports for each message it sees: the
// plaintext payload and whatever secure-channel identifier LocalInfo the
// decryptor attached along the way.
type delivery struct {
	payload  string
	peerInfo string
	hasPeer  bool
}

// captureWorker records every message it receives instead of acting on
// it, so the test can assert on exactly what crossed the channel.
type captureWorker struct {
	received chan delivery
}

func (w *captureWorker) Initialize(ctx *node.Context) error { return nil }

func (w *captureWorker) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	v, ok := msg.Local.Find(ac.IdentifierInfoKey())
	d := delivery{payload: string(msg.Local.Transport.Payload), hasPeer: ok}
	if ok {
		d.peerInfo, _ = v.(string)
	}
	w.received <- d
	return nil
}

func (w *captureWorker) Shutdown(ctx *node.Context) error { return nil }

func TestSecureChannelHandshakeAndRecordLayer(t *testing.T) {
	ctx := context.Background()
	v := vault.New(vault.NewMemoryStorage())
	log := logger.NewDefaultLogger()

	responderIdentity, err := identity.Create(ctx, v)
	require.NoError(t, err)
	initiatorIdentity, err := identity.Create(ctx, v)
	require.NoError(t, err)

	responderStatic := newStaticKey(t, v)
	initiatorStatic := newStaticKey(t, v)

	n := node.NewNode(log)

	listener := &ChannelListener{V: v, LocalID: responderIdentity, LocalStatic: responderStatic, Log: log}
	require.NoError(t, Listen(n, listener))

	app, err := n.NewContext(wire.NewLocalAddress("app-echo-owner"))
	require.NoError(t, err)
	appAddr := wire.NewLocalAddress("app-echo")
	capture := &captureWorker{received: make(chan delivery, 1)}
	require.NoError(t, app.StartWorker(capture, node.NewMailboxes(node.NewMailbox(appAddr, ac.AllowAll(), ac.AllowAllOutgoing()))))

	channel, err := Initiate(ctx, n, v, initiatorIdentity, initiatorStatic,
		wire.NewRoute(wire.NewLocalAddress(ListenerAddress)), Options{})
	require.NoError(t, err)
	assert.Equal(t, responderIdentity.Identifier, channel.Peer)

	driver, err := n.NewContext(wire.NewLocalAddress("app-driver"))
	require.NoError(t, err)

	err = driver.Send(wire.NewRoute(channel.EncryptorAddress, appAddr), []byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-capture.received:
		assert.Equal(t, "hello", got.payload)
		require.True(t, got.hasPeer, "decrypted message should carry the initiator's verified identifier")
		assert.Equal(t, string(initiatorIdentity.Identifier), got.peerInfo)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for plaintext to arrive on the far side of the channel")
	}
}

// The initiator learns of a policy rejection synchronously only for its
// own check of the responder (message 2 arrives before it commits to
// anything); a responder-side rejection of the initiator happens after
// the initiator has already sent message 3 and returned, so it can only
// be observed as the responder's channel never coming up (exercised by
// ChannelListener.OnChannel never firing, not by Initiate's return).
func TestSecureChannelInitiatorRejectsUntrustedResponder(t *testing.T) {
	ctx := context.Background()
	v := vault.New(vault.NewMemoryStorage())
	log := logger.NewDefaultLogger()

	responderIdentity, err := identity.Create(ctx, v)
	require.NoError(t, err)
	initiatorIdentity, err := identity.Create(ctx, v)
	require.NoError(t, err)

	responderStatic := newStaticKey(t, v)
	initiatorStatic := newStaticKey(t, v)

	n := node.NewNode(log)

	listener := &ChannelListener{V: v, LocalID: responderIdentity, LocalStatic: responderStatic, Log: log}
	require.NoError(t, Listen(n, listener))

	rejectEverything := identity.AllowIdentifiers("not-the-responder")
	_, err = Initiate(ctx, n, v, initiatorIdentity, initiatorStatic,
		wire.NewRoute(wire.NewLocalAddress(ListenerAddress)),
		Options{Policy: rejectEverything, HandshakeTimeout: 500 * time.Millisecond})
	assert.Error(t, err)
}
