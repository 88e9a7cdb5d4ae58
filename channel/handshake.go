package channel

import (
	"context"
	"fmt"

	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
)

// HandshakeState drives one Noise_XX_25519_AESGCM_SHA256 exchange to
// completion: -> e, <- e, ee, s, es, -> s, se. Message payloads carry
// this module's identity proof (see identitypayload.go), so Split is
// only reached once both sides have authenticated each other.
type HandshakeState struct {
	v    *vault.Vault
	role Role
	sym  *symmetricState

	localStatic    vault.KeyId
	localEphemeral vault.KeyId

	remoteStaticPub    vault.PublicKey
	remoteEphemeralPub vault.PublicKey
}

// NewHandshakeState begins a handshake in the given role, using
// localStatic (an X25519 secret already held in v) as this side's
// long-term DH key.
func NewHandshakeState(ctx context.Context, v *vault.Vault, role Role, localStatic vault.KeyId) (*HandshakeState, error) {
	sym, err := newSymmetricState(ctx, v)
	if err != nil {
		return nil, err
	}
	return &HandshakeState{v: v, role: role, sym: sym, localStatic: localStatic}, nil
}

func (hs *HandshakeState) generateEphemeral(ctx context.Context) error {
	e, err := hs.v.GenerateSecret(ctx, vault.SecretAttributes{Type: vault.SecretTypeX25519, Persistence: vault.Ephemeral})
	if err != nil {
		return err
	}
	hs.localEphemeral = e
	return nil
}

// WriteMessage1 is the initiator's "-> e": generate an ephemeral key,
// mix it into the hash, and return its public bytes as the wire message.
func (hs *HandshakeState) WriteMessage1(ctx context.Context) ([]byte, error) {
	if hs.role != RoleInitiator {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "WriteMessage1 called by responder")
	}
	if err := hs.generateEphemeral(ctx); err != nil {
		return nil, err
	}
	pub, err := hs.v.PublicKey(ctx, hs.localEphemeral)
	if err != nil {
		return nil, err
	}
	hs.sym.mixHash(pub)
	return pub, nil
}

// ReadMessage1 is the responder's side of "-> e".
func (hs *HandshakeState) ReadMessage1(ctx context.Context, msg []byte) error {
	if hs.role != RoleResponder {
		return ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "ReadMessage1 called by initiator")
	}
	if len(msg) != 32 {
		return ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "message 1: bad ephemeral key length")
	}
	hs.remoteEphemeralPub = append(vault.PublicKey(nil), msg...)
	hs.sym.mixHash(msg)
	return nil
}

// WriteMessage2 is the responder's "<- e, ee, s, es" plus its identity
// payload, AEAD-encrypted under the key established by the ee and es
// DHs.
func (hs *HandshakeState) WriteMessage2(ctx context.Context, payload []byte) ([]byte, error) {
	if hs.role != RoleResponder {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "WriteMessage2 called by initiator")
	}
	if err := hs.generateEphemeral(ctx); err != nil {
		return nil, err
	}
	ePub, err := hs.v.PublicKey(ctx, hs.localEphemeral)
	if err != nil {
		return nil, err
	}
	hs.sym.mixHash(ePub)

	ee, err := hs.v.Ecdh(ctx, hs.localEphemeral, hs.remoteEphemeralPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, ee); err != nil {
		return nil, err
	}

	sPub, err := hs.v.PublicKey(ctx, hs.localStatic)
	if err != nil {
		return nil, err
	}
	encryptedStatic, err := hs.sym.encryptAndHash(ctx, sPub)
	if err != nil {
		return nil, err
	}

	es, err := hs.v.Ecdh(ctx, hs.localStatic, hs.remoteEphemeralPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, es); err != nil {
		return nil, err
	}

	encryptedPayload, err := hs.sym.encryptAndHash(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(ePub)+len(encryptedStatic)+len(encryptedPayload))
	out = append(out, ePub...)
	out = append(out, encryptedStatic...)
	out = append(out, encryptedPayload...)
	return out, nil
}

// ReadMessage2 is the initiator's side of message 2; it returns the
// responder's decrypted identity payload.
func (hs *HandshakeState) ReadMessage2(ctx context.Context, msg []byte) ([]byte, error) {
	if hs.role != RoleInitiator {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "ReadMessage2 called by responder")
	}
	if len(msg) < 32+48 {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "message 2: too short")
	}
	ePub := msg[:32]
	encryptedStatic := msg[32 : 32+48]
	encryptedPayload := msg[32+48:]

	hs.remoteEphemeralPub = append(vault.PublicKey(nil), ePub...)
	hs.sym.mixHash(ePub)

	ee, err := hs.v.Ecdh(ctx, hs.localEphemeral, hs.remoteEphemeralPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, ee); err != nil {
		return nil, err
	}

	sPub, err := hs.sym.decryptAndHash(ctx, encryptedStatic)
	if err != nil {
		return nil, fmt.Errorf("channel: decrypt responder static key: %w", err)
	}
	hs.remoteStaticPub = append(vault.PublicKey(nil), sPub...)

	se, err := hs.v.Ecdh(ctx, hs.localEphemeral, hs.remoteStaticPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, se); err != nil {
		return nil, err
	}

	payload, err := hs.sym.decryptAndHash(ctx, encryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("channel: decrypt responder identity payload: %w", err)
	}
	return payload, nil
}

// WriteMessage3 is the initiator's "-> s, se" plus its own identity
// payload.
func (hs *HandshakeState) WriteMessage3(ctx context.Context, payload []byte) ([]byte, error) {
	if hs.role != RoleInitiator {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "WriteMessage3 called by responder")
	}
	sPub, err := hs.v.PublicKey(ctx, hs.localStatic)
	if err != nil {
		return nil, err
	}
	encryptedStatic, err := hs.sym.encryptAndHash(ctx, sPub)
	if err != nil {
		return nil, err
	}

	se, err := hs.v.Ecdh(ctx, hs.localStatic, hs.remoteEphemeralPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, se); err != nil {
		return nil, err
	}

	encryptedPayload, err := hs.sym.encryptAndHash(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(encryptedStatic)+len(encryptedPayload))
	out = append(out, encryptedStatic...)
	out = append(out, encryptedPayload...)
	return out, nil
}

// ReadMessage3 is the responder's side of message 3; it returns the
// initiator's decrypted identity payload. The handshake is fully
// complete once this returns without error: call Split next.
func (hs *HandshakeState) ReadMessage3(ctx context.Context, msg []byte) ([]byte, error) {
	if hs.role != RoleResponder {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "ReadMessage3 called by initiator")
	}
	if len(msg) < 48 {
		return nil, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindProtocol, "message 3: too short")
	}
	encryptedStatic := msg[:48]
	encryptedPayload := msg[48:]

	sPub, err := hs.sym.decryptAndHash(ctx, encryptedStatic)
	if err != nil {
		return nil, fmt.Errorf("channel: decrypt initiator static key: %w", err)
	}
	hs.remoteStaticPub = append(vault.PublicKey(nil), sPub...)

	se, err := hs.v.Ecdh(ctx, hs.localEphemeral, hs.remoteStaticPub)
	if err != nil {
		return nil, err
	}
	if err := hs.sym.mixKey(ctx, se); err != nil {
		return nil, err
	}

	payload, err := hs.sym.decryptAndHash(ctx, encryptedPayload)
	if err != nil {
		return nil, fmt.Errorf("channel: decrypt initiator identity payload: %w", err)
	}
	return payload, nil
}

// RemoteStaticPublicKey returns the peer's static DH public key, known
// from message 2 (initiator) or message 3 (responder) onward.
func (hs *HandshakeState) RemoteStaticPublicKey() vault.PublicKey {
	return hs.remoteStaticPub
}

// Split completes the handshake, deriving the two directional AEAD
// keys. sendKey, recvKey are always from this side's point of view.
func (hs *HandshakeState) Split(ctx context.Context) (sendKey, recvKey vault.KeyId, err error) {
	k1, k2, err := hs.sym.split(ctx)
	if err != nil {
		return "", "", err
	}
	if hs.role == RoleInitiator {
		return k1, k2, nil
	}
	return k2, k1, nil
}
