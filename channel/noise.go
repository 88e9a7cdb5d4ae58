// Package channel implements spec layer L4: a Noise_XX_25519_AESGCM_SHA256
// handshake between two identities, followed by an AEAD record layer
// carrying ordinary TransportMessages once the handshake completes.
package channel

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/build-trust/ockam-go/vault"
)

// protocolName is the Noise protocol name for this pattern and cipher
// suite. Zero padded to 32 bytes and hashed with SHA-256, it gives both
// the initial handshake hash and the initial chaining key.
const protocolName = "Noise_XX_25519_AESGCM_SHA256"

// Role names which side of the XX pattern a HandshakeState plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// symmetricState is the Noise "SymmetricState": the running chaining
// key and handshake hash, updated by every mixHash/mixKey call, plus the
// AEAD key (once one exists) used by encryptAndHash/decryptAndHash.
type symmetricState struct {
	v     *vault.Vault
	ck    vault.KeyId
	h     [32]byte
	k     *vault.KeyId
	nonce uint64
}

func newSymmetricState(ctx context.Context, v *vault.Vault) (*symmetricState, error) {
	var padded [32]byte
	copy(padded[:], protocolName)
	h := v.Sha256(padded[:])

	ck, err := v.ImportSecret(ctx, h[:], vault.SecretAttributes{Type: vault.SecretTypeBuffer, Length: 32, Persistence: vault.Ephemeral})
	if err != nil {
		return nil, fmt.Errorf("channel: initialize chaining key: %w", err)
	}

	s := &symmetricState{v: v, ck: ck, h: h}
	return s, nil
}

func (s *symmetricState) mixHash(data []byte) {
	buf := make([]byte, 0, 32+len(data))
	buf = append(buf, s.h[:]...)
	buf = append(buf, data...)
	s.h = s.v.Sha256(buf)
}

// mixKey absorbs a DH output: ck, k := HKDF(ck, dh_output, 2). The AEAD
// key is requested typed as AES-256 so it needs no further conversion
// before AeadAesGcmEncrypt/Decrypt.
func (s *symmetricState) mixKey(ctx context.Context, dh vault.KeyId) error {
	outputs, err := s.v.HkdfSha256(ctx, s.ck, nil, &dh, []vault.SecretAttributes{
		{Type: vault.SecretTypeBuffer, Length: 32, Persistence: vault.Ephemeral},
		{Type: vault.SecretTypeAES256, Persistence: vault.Ephemeral},
	})
	if err != nil {
		return fmt.Errorf("channel: mix key: %w", err)
	}
	s.ck = outputs[0]
	k := outputs[1]
	s.k = &k
	s.nonce = 0
	return nil
}

func aeadNonce(counter uint64) []byte {
	var n [12]byte
	binary.BigEndian.PutUint64(n[4:], counter)
	return n[:]
}

// encryptAndHash implements Noise's EncryptAndHash: ciphertext (or the
// plaintext itself, pre-key) is mixed into the handshake hash so every
// subsequent message is bound to everything sent so far.
func (s *symmetricState) encryptAndHash(ctx context.Context, plaintext []byte) ([]byte, error) {
	if s.k == nil {
		s.mixHash(plaintext)
		return plaintext, nil
	}
	ct, err := s.v.AeadAesGcmEncrypt(ctx, *s.k, plaintext, aeadNonce(s.nonce), s.h[:])
	if err != nil {
		return nil, err
	}
	s.nonce++
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if s.k == nil {
		s.mixHash(ciphertext)
		return ciphertext, nil
	}
	pt, err := s.v.AeadAesGcmDecrypt(ctx, *s.k, ciphertext, aeadNonce(s.nonce), s.h[:])
	if err != nil {
		return nil, err
	}
	s.nonce++
	s.mixHash(ciphertext)
	return pt, nil
}

// split derives the two directional transport keys once the handshake
// completes: HKDF(ck, "", 2), not consuming any further DH output.
func (s *symmetricState) split(ctx context.Context) (vault.KeyId, vault.KeyId, error) {
	outputs, err := s.v.HkdfSha256(ctx, s.ck, nil, nil, []vault.SecretAttributes{
		{Type: vault.SecretTypeAES256, Persistence: vault.Ephemeral},
		{Type: vault.SecretTypeAES256, Persistence: vault.Ephemeral},
	})
	if err != nil {
		return "", "", fmt.Errorf("channel: split transport keys: %w", err)
	}
	return outputs[0], outputs[1], nil
}
