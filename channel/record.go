package channel

import (
	"context"
	"sync"

	"github.com/build-trust/ockam-go/node"
	"github.com/build-trust/ockam-go/node/ac"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
	"github.com/build-trust/ockam-go/wire"
)

// encryptor is the Worker apps Send plaintext TransportMessages to once a
// channel is established: it re-encodes the message it receives (onward
// route, return route and payload, all still meaningful once decrypted on
// the other end) as one AEAD record and forwards the ciphertext along the
// underlying route to the peer's decryptor.
type encryptor struct {
	v         *vault.Vault
	key       vault.KeyId
	counter   uint64
	peerRoute wire.Route
}

func (e *encryptor) Initialize(ctx *node.Context) error { return nil }

func (e *encryptor) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	inner, err := msg.Local.Transport.Encode()
	if err != nil {
		return err
	}
	ciphertext, err := e.v.AeadAesGcmEncrypt(context.Background(), e.key, inner, aeadNonce(e.counter), nil)
	if err != nil {
		return err
	}
	e.counter++
	return ctx.Send(e.peerRoute, ciphertext)
}

func (e *encryptor) Shutdown(ctx *node.Context) error { return nil }

// decryptor reads AEAD records off the wire, addressed to this worker by
// the underlying transport, decrypts them and forwards the recovered
// TransportMessage onward exactly as Context.Forward would -- except
// there is no tolerance for reordering: the record layer's nonce counter
// is strictly incrementing, so a single dropped or reordered record is
// fatal to the channel rather than silently skipped.
type decryptor struct {
	v       *vault.Vault
	key     vault.KeyId
	counter uint64
	peer    VerifiedPeer

	mu     sync.Mutex
	closed bool
	onFail func(error)
}

func (d *decryptor) Initialize(ctx *node.Context) error { return nil }

func (d *decryptor) HandleMessage(ctx *node.Context, msg wire.RelayMessage) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ockamerr.New(ockamerr.OriginChannel, ockamerr.KindShutdown, "decryptor closed")
	}
	counter := d.counter
	d.mu.Unlock()

	plaintext, err := d.v.AeadAesGcmDecrypt(context.Background(), d.key, msg.Local.Transport.Payload, aeadNonce(counter), nil)
	if err != nil {
		d.fail()
		return ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindProtocol, "record authentication failed, channel closed", err)
	}

	d.mu.Lock()
	d.counter++
	d.mu.Unlock()

	inner, err := wire.Decode(plaintext)
	if err != nil {
		d.fail()
		return ockamerr.Wrap(ockamerr.OriginChannel, ockamerr.KindProtocol, "record did not decode to a transport message", err)
	}

	lm := wire.NewLocalMessage(inner).WithLocalInfo(ac.IdentifierInfoKey(), string(d.peer.Identifier))
	return ctx.Forward(lm)
}

// fail marks the decryptor closed and notifies onFail once. Returning a
// non-nil error from HandleMessage is itself what ends this worker's
// dispatch loop (the node runtime treats that as fatal and tears the
// loop down), so fail only needs to handle the notification side.
func (d *decryptor) fail() {
	d.mu.Lock()
	already := d.closed
	d.closed = true
	d.mu.Unlock()
	if already {
		return
	}
	if d.onFail != nil {
		d.onFail(ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "secure channel record failure"))
	}
}

func (d *decryptor) Shutdown(ctx *node.Context) error { return nil }
