package channel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/build-trust/ockam-go/identity"
	"github.com/build-trust/ockam-go/internal/logger"
	"github.com/build-trust/ockam-go/internal/metrics"
	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
	"github.com/build-trust/ockam-go/wire"
)

// DefaultHandshakeTimeout bounds how long either side of a handshake
// waits for the next message before giving up.
const DefaultHandshakeTimeout = 10 * time.Second

// ListenerAddress is the well-known local address a node's ChannelListener
// is conventionally registered under.
const ListenerAddress = "secure_channel_listener"

// Options configures how a channel authenticates its peer.
type Options struct {
	// Policy decides whether the peer's verified Identifier is acceptable
	// at all. Nil means identity.AllowAnyIdentity().
	Policy identity.TrustPolicy
	// Trust, if non-nil, is consulted to verify any credentials the peer
	// presents.
	Trust *identity.TrustContext
	// Credentials are presented to the peer for it to verify against its
	// own TrustContext, if any.
	Credentials []identity.Credential
	// HandshakeTimeout overrides DefaultHandshakeTimeout if non-zero.
	HandshakeTimeout time.Duration
	// OnFailure, if set, is called once if the record layer ever detects
	// a corrupted or out-of-order record after the channel is established.
	OnFailure func(error)
}

func (o Options) timeout() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

func (o Options) policy() identity.TrustPolicy {
	if o.Policy != nil {
		return o.Policy
	}
	return identity.AllowAnyIdentity()
}

// Channel is an established secure channel: EncryptorAddress is the local
// address application workers Send plaintext TransportMessages to, which
// arrive decrypted (with the peer's verified Identifier attached as
// LocalInfo) at whichever address their onward route names on the far
// side.
type Channel struct {
	EncryptorAddress wire.Address
	DecryptorAddress wire.Address
	Peer             identity.Identifier
	Credentials      []identity.Credential
}

// Initiate runs the initiator's side of a Noise_XX handshake over route
// (the route to the peer's ChannelListener, including any transport hop)
// and, on success, starts the paired encryptor/decryptor workers that
// carry application traffic over the established channel.
func Initiate(ctx context.Context, n *node.Node, v *vault.Vault, localID *identity.Identity, localStatic vault.KeyId, route wire.Route, opts Options) (*Channel, error) {
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	start := time.Now()
	defer func() { metrics.HandshakeDuration.WithLabelValues("initiator").Observe(time.Since(start).Seconds()) }()

	root, err := n.NewContext(wire.NewLocalAddress("_internals.channel.initiator." + uuid.NewString()))
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("internal").Inc()
		return nil, err
	}
	established := false
	defer func() {
		if !established {
			root.Close()
		}
	}()

	hs, err := NewHandshakeState(ctx, v, RoleInitiator, localStatic)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("internal").Inc()
		return nil, err
	}

	msg1, err := hs.WriteMessage1(ctx)
	if err != nil {
		return nil, err
	}
	if err := root.Send(route, msg1); err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindIO, "send handshake message 1", err)
	}

	reply2, err := root.ReceiveExtended(opts.timeout())
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindTimeout, "awaiting handshake message 2", err)
	}

	payload2, err := hs.ReadMessage2(ctx, reply2.Local.Transport.Payload)
	if err != nil {
		return nil, err
	}
	peer, err := verifyIdentityPayload(payload2, hs.RemoteStaticPublicKey(), opts.policy(), opts.Trust)
	if err != nil {
		return nil, err
	}

	// Future application traffic for this channel, in both directions,
	// crosses exactly whatever route message 2 carried as its return
	// route: the same hops the peer's ChannelListener just used to reply.
	peerRoute := reply2.Local.Transport.ReturnRoute

	staticPub, err := v.PublicKey(ctx, localStatic)
	if err != nil {
		return nil, err
	}
	myPayload, err := buildIdentityPayload(ctx, v, localID, staticPub, opts.Credentials)
	if err != nil {
		return nil, err
	}
	msg3, err := hs.WriteMessage3(ctx, myPayload)
	if err != nil {
		return nil, err
	}
	if err := root.Send(peerRoute, msg3); err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindIO, "send handshake message 3", err)
	}

	sendKey, recvKey, err := hs.Split(ctx)
	if err != nil {
		return nil, err
	}

	channel, err := startChannel(root, v, peer, sendKey, recvKey, peerRoute, opts)
	if err != nil {
		metrics.HandshakesFailed.WithLabelValues("internal").Inc()
		return nil, err
	}
	established = true
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	return channel, nil
}

// startChannel spawns the encryptor/decryptor pair over a freshly split
// key pair and returns the handle applications use to talk through them.
// root's own address becomes the decryptor's address: this is the
// address the handshake's messages were exchanged under, so it is
// exactly what the peer already knows to send future records to. root's
// own handshake-phase mailbox is torn down first so a real worker loop
// can claim that same address.
func startChannel(root *node.Context, v *vault.Vault, peer VerifiedPeer, sendKey, recvKey vault.KeyId, peerRoute wire.Route, opts Options) (*Channel, error) {
	root.Close()

	dec := &decryptor{v: v, key: recvKey, peer: peer, onFail: opts.OnFailure}
	if err := root.StartWorker(dec, node.NewMailboxes(node.NewMailbox(root.Address(), ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		return nil, err
	}

	encAddr := wire.NewLocalAddress(root.Address().Value + ".tx")
	enc := &encryptor{v: v, key: sendKey, peerRoute: peerRoute}
	if err := root.StartWorker(enc, node.NewMailboxes(node.NewMailbox(encAddr, ac.AllowAll(), ac.AllowAllOutgoing()))); err != nil {
		_ = root.StopWorker(root.Address())
		return nil, err
	}

	return &Channel{
		EncryptorAddress: encAddr,
		DecryptorAddress: root.Address(),
		Peer:             peer.Identifier,
		Credentials:      peer.Credentials,
	}, nil
}

// ChannelListener answers incoming Initiate calls: it is registered once
// per node, at ListenerAddress, and spawns one responder handshake per
// inbound "-> e" it sees, so concurrent handshake attempts never block
// each other.
type ChannelListener struct {
	V           *vault.Vault
	LocalID     *identity.Identity
	LocalStatic vault.KeyId
	Options     Options
	Log         logger.Logger

	// OnChannel, if set, is called once for every channel this listener
	// establishes.
	OnChannel func(*Channel)
}

func (l *ChannelListener) Initialize(ctx *node.Context) error { return nil }

func (l *ChannelListener) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	go l.acceptOne(ctx, msg)
	return nil
}

func (l *ChannelListener) Shutdown(ctx *node.Context) error { return nil }

func (l *ChannelListener) acceptOne(parent *node.Context, msg wire.RelayMessage) {
	log := l.Log
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	responder, err := parent.NewDetached(ac.AllowAll(), ac.AllowAllOutgoing())
	if err != nil {
		log.Error("channel: failed to open responder context", logger.Error(err))
		return
	}

	channel, err := l.respond(responder, msg)
	if err != nil {
		log.Warn("channel: handshake failed", logger.Error(err))
		responder.Close()
		return
	}
	if l.OnChannel != nil {
		l.OnChannel(channel)
	}
}

func (l *ChannelListener) respond(responder *node.Context, msg wire.RelayMessage) (*Channel, error) {
	ctx := context.Background()

	hs, err := NewHandshakeState(ctx, l.V, RoleResponder, l.LocalStatic)
	if err != nil {
		return nil, err
	}
	if err := hs.ReadMessage1(ctx, msg.Local.Transport.Payload); err != nil {
		return nil, err
	}

	staticPub, err := l.V.PublicKey(ctx, l.LocalStatic)
	if err != nil {
		return nil, err
	}
	myPayload, err := buildIdentityPayload(ctx, l.V, l.LocalID, staticPub, l.Options.Credentials)
	if err != nil {
		return nil, err
	}
	msg2, err := hs.WriteMessage2(ctx, myPayload)
	if err != nil {
		return nil, err
	}

	// The initiator's return route, as it arrived with message 1, is
	// where message 2 and every future record addressed to it must go.
	initiatorRoute := msg.Local.Transport.ReturnRoute
	if err := responder.Send(initiatorRoute, msg2); err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindIO, "send handshake message 2", err)
	}

	reply3, err := responder.ReceiveExtended(l.Options.timeout())
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindTimeout, "awaiting handshake message 3", err)
	}

	payload3, err := hs.ReadMessage3(ctx, reply3.Local.Transport.Payload)
	if err != nil {
		return nil, err
	}
	peer, err := verifyIdentityPayload(payload3, hs.RemoteStaticPublicKey(), l.Options.policy(), l.Options.Trust)
	if err != nil {
		return nil, err
	}

	sendKey, recvKey, err := hs.Split(ctx)
	if err != nil {
		return nil, err
	}

	// Future records for the initiator cross whichever route message 3
	// carried as its return route -- the initiator's own decryptor
	// address, reachable over whatever hop it arrived through.
	peerRoute := reply3.Local.Transport.ReturnRoute
	return startChannel(responder, l.V, peer, sendKey, recvKey, peerRoute, l.Options)
}

// Listen registers a ChannelListener at ListenerAddress on n.
func Listen(n *node.Node, l *ChannelListener) error {
	root, err := n.NewContext(wire.NewLocalAddress("_internals.channel.listener." + uuid.NewString()))
	if err != nil {
		return err
	}
	defer root.Close()
	listenerAddr := wire.NewLocalAddress(ListenerAddress)
	return root.StartWorker(l, node.NewMailboxes(node.NewMailbox(listenerAddr, ac.AllowAll(), ac.AllowAllOutgoing())))
}
