// Package vault is the custody boundary for all secret bytes. Callers
// never see raw key material: every operation takes and returns KeyId
// handles, and only the Vault's internal storage ever holds a Secret.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SecretType names the shape of a secret held by the vault.
type SecretType int

const (
	SecretTypeX25519 SecretType = iota
	SecretTypeEd25519
	SecretTypeP256
	SecretTypeAES128
	SecretTypeAES256
	SecretTypeBuffer
)

// Persistence controls whether a secret survives a Vault restart.
type Persistence int

const (
	Ephemeral Persistence = iota
	Persistent
)

// SecretAttributes describes what is being generated or imported.
type SecretAttributes struct {
	Type        SecretType
	Persistence Persistence
	// Length is only consulted for SecretTypeBuffer; asymmetric and AES
	// types have a fixed, implied length.
	Length int
}

func (a SecretAttributes) byteLength() (int, error) {
	switch a.Type {
	case SecretTypeX25519, SecretTypeEd25519, SecretTypeP256:
		return 32, nil
	case SecretTypeAES128:
		return 16, nil
	case SecretTypeAES256:
		return 32, nil
	case SecretTypeBuffer:
		if a.Length <= 0 || a.Length > 32 {
			return 0, ErrInvalidSecretLength
		}
		return a.Length, nil
	default:
		return 0, ErrInvalidKeyType
	}
}

// KeyId is a stable, content-addressed handle to a secret. For asymmetric
// keys it is hex(SHA-256(public_key)); for symmetric/ephemeral secrets it
// is a random 32-byte hex string. Callers hold KeyIds, never key bytes.
type KeyId string

// KeyIdFromPublicKey computes the stable KeyId for an asymmetric public key.
func KeyIdFromPublicKey(pub []byte) KeyId {
	sum := sha256.Sum256(pub)
	return KeyId(hex.EncodeToString(sum[:]))
}

// PublicKey is the exported public half of an asymmetric secret.
type PublicKey []byte

// Signature is a detached signature over arbitrary data.
type Signature []byte

// Failure modes, per spec §4.1 / §7.
var (
	ErrKeyNotFound         = errors.New("vault: key not found")
	ErrInvalidSecretLength = errors.New("vault: invalid secret length")
	ErrInvalidKeyType      = errors.New("vault: invalid key type")
	ErrUnknownEcdhKeyType  = errors.New("vault: unknown ecdh key type")
	ErrAeadDecryptFailed   = errors.New("vault: aead decrypt failed")
	ErrHkdfExpandError     = errors.New("vault: hkdf expand error")
	ErrExportNotAllowed    = errors.New("vault: export not allowed for this secret's storage")
)
