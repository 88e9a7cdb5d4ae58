package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// entry is the in-process representation of a secret: the raw bytes plus
// whatever is needed to answer PublicKey/KeyId without re-deriving it.
type entry struct {
	attrs  SecretAttributes
	bytes  []byte
	pubKey []byte // populated for asymmetric types
}

// Vault is the custody boundary described in spec §4.1. Ephemeral secrets
// live only in the process map; Persistent secrets are mirrored into an
// injected KeyValueStorage so they survive a restart.
type Vault struct {
	mu         sync.RWMutex
	ephemeral  map[KeyId]entry
	persistent KeyValueStorage
}

// New creates a Vault backed by the given persistent store. Pass
// vault.NewMemoryStorage() for a store with no cross-restart durability.
func New(persistent KeyValueStorage) *Vault {
	return &Vault{
		ephemeral:  make(map[KeyId]entry),
		persistent: persistent,
	}
}

// GenerateSecret produces cryptographically random material matching attrs
// and returns the KeyId the caller will use to refer to it from now on.
func (v *Vault) GenerateSecret(ctx context.Context, attrs SecretAttributes) (KeyId, error) {
	raw, pub, err := generateRaw(attrs)
	if err != nil {
		return "", err
	}
	return v.store(ctx, attrs, raw, pub)
}

// ImportSecret registers caller-supplied bytes under a fresh KeyId.
func (v *Vault) ImportSecret(ctx context.Context, raw []byte, attrs SecretAttributes) (KeyId, error) {
	length, err := attrs.byteLength()
	if err != nil {
		return "", err
	}
	if len(raw) != length {
		return "", ErrInvalidSecretLength
	}
	pub, err := derivePublic(attrs, raw)
	if err != nil {
		return "", err
	}
	return v.store(ctx, attrs, raw, pub)
}

func (v *Vault) store(ctx context.Context, attrs SecretAttributes, raw, pub []byte) (KeyId, error) {
	var id KeyId
	if pub != nil {
		id = KeyIdFromPublicKey(pub)
	} else {
		var buf [32]byte
		if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
			return "", fmt.Errorf("vault: generate key id: %w", err)
		}
		id = KeyId(hex.EncodeToString(buf[:]))
	}

	e := entry{attrs: attrs, bytes: raw, pubKey: pub}

	if attrs.Persistence == Persistent {
		if err := v.persistent.Put(ctx, id, StoredSecret{Bytes: raw, Attributes: attrs}); err != nil {
			return "", fmt.Errorf("vault: persist secret: %w", err)
		}
	}

	v.mu.Lock()
	v.ephemeral[id] = e
	v.mu.Unlock()

	return id, nil
}

// lookup resolves a KeyId against the in-memory cache, falling back to the
// persistent store (and re-warming the cache) for persistent secrets that
// were loaded by a previous process.
func (v *Vault) lookup(ctx context.Context, id KeyId) (entry, error) {
	v.mu.RLock()
	e, ok := v.ephemeral[id]
	v.mu.RUnlock()
	if ok {
		return e, nil
	}

	stored, err := v.persistent.Get(ctx, id)
	if err != nil {
		return entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
	}
	pub, _ := derivePublic(stored.Attributes, stored.Bytes)
	e = entry{attrs: stored.Attributes, bytes: stored.Bytes, pubKey: pub}

	v.mu.Lock()
	v.ephemeral[id] = e
	v.mu.Unlock()
	return e, nil
}

// ExportSecret returns the raw bytes of a secret. Callers building
// hardware-backed vaults should override this to fail for non-exportable
// storage; the software vault exports whatever it holds.
func (v *Vault) ExportSecret(ctx context.Context, id KeyId) ([]byte, error) {
	e, err := v.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(e.bytes))
	copy(out, e.bytes)
	return out, nil
}

// PublicKey returns the public half of an asymmetric secret.
func (v *Vault) PublicKey(ctx context.Context, id KeyId) (PublicKey, error) {
	e, err := v.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.pubKey == nil {
		return nil, ErrInvalidKeyType
	}
	return PublicKey(e.pubKey), nil
}

// KeyIdOf returns the stable handle a public key would be stored under.
func (v *Vault) KeyIdOf(pub PublicKey) KeyId {
	return KeyIdFromPublicKey(pub)
}

// Destroy removes a secret from both the in-memory cache and, if
// persistent, the backing store. Returns true if a secret was removed.
func (v *Vault) Destroy(ctx context.Context, id KeyId) bool {
	v.mu.Lock()
	e, ok := v.ephemeral[id]
	delete(v.ephemeral, id)
	v.mu.Unlock()

	if !ok {
		// Not cached: it may still be a persistent secret in the store.
		if _, err := v.persistent.Get(ctx, id); err != nil {
			return false
		}
		return v.persistent.Delete(ctx, id) == nil
	}
	if e.attrs.Persistence == Persistent {
		_ = v.persistent.Delete(ctx, id)
	}
	return true
}

// Sha256 hashes data; it needs no KeyId since it has no secret input.
func (v *Vault) Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Ecdh performs local-static/remote-public Diffie-Hellman and stores the
// 32-byte shared secret as a fresh ephemeral Buffer(32) secret.
func (v *Vault) Ecdh(ctx context.Context, local KeyId, remote PublicKey) (KeyId, error) {
	e, err := v.lookup(ctx, local)
	if err != nil {
		return "", err
	}

	var shared []byte
	switch e.attrs.Type {
	case SecretTypeX25519:
		priv, err := ecdh.X25519().NewPrivateKey(e.bytes)
		if err != nil {
			return "", fmt.Errorf("vault: load x25519 private key: %w", err)
		}
		pub, err := ecdh.X25519().NewPublicKey(remote)
		if err != nil {
			return "", fmt.Errorf("vault: load x25519 peer public key: %w", err)
		}
		shared, err = priv.ECDH(pub)
		if err != nil {
			return "", fmt.Errorf("vault: x25519 ecdh: %w", err)
		}
	default:
		return "", ErrUnknownEcdhKeyType
	}

	return v.store(ctx, SecretAttributes{Type: SecretTypeBuffer, Persistence: Ephemeral, Length: 32}, shared, nil)
}

// HkdfSha256 runs RFC 5869 HKDF over ikm (or empty input keying material
// if ikm is nil),
// salted by the Buffer secret at salt, and slices the expand stream into
// disjoint ≤32-byte windows, one per requested output.
func (v *Vault) HkdfSha256(ctx context.Context, salt KeyId, info []byte, ikm *KeyId, outputs []SecretAttributes) ([]KeyId, error) {
	saltEntry, err := v.lookup(ctx, salt)
	if err != nil {
		return nil, err
	}

	var ikmBytes []byte
	if ikm != nil {
		ikmEntry, err := v.lookup(ctx, *ikm)
		if err != nil {
			return nil, err
		}
		ikmBytes = ikmEntry.bytes
	}

	total := 0
	lengths := make([]int, len(outputs))
	for i, attrs := range outputs {
		l, err := attrs.byteLength()
		if err != nil {
			return nil, err
		}
		if l > 32 {
			return nil, ErrHkdfExpandError
		}
		lengths[i] = l
		total += l
	}

	reader := hkdf.New(sha256.New, ikmBytes, saltEntry.bytes, info)
	expanded := make([]byte, total)
	if _, err := io.ReadFull(reader, expanded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHkdfExpandError, err)
	}

	ids := make([]KeyId, len(outputs))
	offset := 0
	for i, attrs := range outputs {
		window := expanded[offset : offset+lengths[i]]
		offset += lengths[i]
		id, err := v.store(ctx, attrs, window, nil)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// AeadAesGcmEncrypt seals payload under the AES-256 secret at id; the
// 16-byte tag is appended to the returned ciphertext.
func (v *Vault) AeadAesGcmEncrypt(ctx context.Context, id KeyId, payload, nonce, aad []byte) ([]byte, error) {
	gcm, err := v.gcmFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, payload, aad), nil
}

// AeadAesGcmDecrypt opens a ciphertext produced by AeadAesGcmEncrypt; the
// trailing 16-byte tag is verified and stripped.
func (v *Vault) AeadAesGcmDecrypt(ctx context.Context, id KeyId, ciphertext, nonce, aad []byte) ([]byte, error) {
	gcm, err := v.gcmFor(ctx, id)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAeadDecryptFailed
	}
	return plaintext, nil
}

func (v *Vault) gcmFor(ctx context.Context, id KeyId) (cipher.AEAD, error) {
	e, err := v.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.attrs.Type != SecretTypeAES256 && e.attrs.Type != SecretTypeAES128 {
		return nil, ErrInvalidKeyType
	}
	block, err := aes.NewCipher(e.bytes)
	if err != nil {
		return nil, fmt.Errorf("vault: new aes cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Sign produces a detached signature over data with the signing secret id.
func (v *Vault) Sign(ctx context.Context, id KeyId, data []byte) (Signature, error) {
	e, err := v.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	switch e.attrs.Type {
	case SecretTypeEd25519:
		return Signature(ed25519.Sign(ed25519.PrivateKey(e.bytes), data)), nil
	case SecretTypeP256:
		priv, err := ecdsaPrivateFromBytes(e.bytes)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256(data)
		sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
		if err != nil {
			return nil, fmt.Errorf("vault: ecdsa sign: %w", err)
		}
		return Signature(sig), nil
	default:
		return nil, ErrInvalidKeyType
	}
}

// Verify checks a Signature over data against a raw public key. It is a
// pure function: it needs no custody over any secret.
func Verify(keyType SecretType, pub PublicKey, data []byte, sig Signature) bool {
	switch keyType {
	case SecretTypeEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
	case SecretTypeP256:
		x, y := elliptic.Unmarshal(elliptic.P256(), pub)
		if x == nil {
			return false
		}
		pk := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		digest := sha256.Sum256(data)
		return ecdsa.VerifyASN1(pk, digest[:], sig)
	default:
		return false
	}
}

func generateRaw(attrs SecretAttributes) (raw, pub []byte, err error) {
	switch attrs.Type {
	case SecretTypeX25519:
		priv, err := ecdh.X25519().GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("vault: generate x25519 key: %w", err)
		}
		return priv.Bytes(), priv.PublicKey().Bytes(), nil
	case SecretTypeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("vault: generate ed25519 key: %w", err)
		}
		return priv, pub, nil
	case SecretTypeP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("vault: generate p256 key: %w", err)
		}
		pub := elliptic.Marshal(elliptic.P256(), priv.X, priv.Y)
		return priv.D.Bytes(), pub, nil
	case SecretTypeAES128, SecretTypeAES256, SecretTypeBuffer:
		length, err := attrs.byteLength()
		if err != nil {
			return nil, nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(rand.Reader, raw); err != nil {
			return nil, nil, fmt.Errorf("vault: generate random secret: %w", err)
		}
		return raw, nil, nil
	default:
		return nil, nil, ErrInvalidKeyType
	}
}

func derivePublic(attrs SecretAttributes, raw []byte) ([]byte, error) {
	switch attrs.Type {
	case SecretTypeX25519:
		priv, err := ecdh.X25519().NewPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("vault: load x25519 key: %w", err)
		}
		return priv.PublicKey().Bytes(), nil
	case SecretTypeEd25519:
		if len(raw) != ed25519.PrivateKeySize {
			return nil, ErrInvalidSecretLength
		}
		return []byte(ed25519.PrivateKey(raw).Public().(ed25519.PublicKey)), nil
	case SecretTypeP256:
		priv, err := ecdsaPrivateFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return elliptic.Marshal(elliptic.P256(), priv.X, priv.Y), nil
	default:
		return nil, nil
	}
}

func ecdsaPrivateFromBytes(raw []byte) (*ecdsa.PrivateKey, error) {
	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = new(big.Int).SetBytes(raw)
	priv.PublicKey.X, priv.PublicKey.Y = priv.Curve.ScalarBaseMult(raw)
	return priv, nil
}
