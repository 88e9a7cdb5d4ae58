// Package identity implements spec layer L3: long-lived identities whose
// identifier is content-addressed from a root signing key, a change
// history authorizing key rotation, and the credentials a trust context
// accepts as attesting facts about an identifier.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
)

// Identifier is hex(SHA-256(root_public_key)) -- stable for the life of
// an Identity even as its signing key is rotated.
type Identifier string

// ChangeHistoryEntry records one key-rotation event, self-signed by the
// previous signing key so any holder of the identity's change history
// can verify the chain of custody without trusting a third party.
type ChangeHistoryEntry struct {
	KeyId        vault.KeyId
	PublicKey    vault.PublicKey
	KeyType      vault.SecretType
	SignedByPrev vault.Signature
	CreatedAt    time.Time
}

// Identity is one node's (or one agent's) long-lived cryptographic
// identity: a stable Identifier plus the ordered history of signing keys
// that have spoken for it.
type Identity struct {
	Identifier Identifier
	History    []ChangeHistoryEntry
}

// CurrentKey returns the signing key currently authorized to speak for
// this identity -- the last entry of its change history.
func (id *Identity) CurrentKey() ChangeHistoryEntry {
	return id.History[len(id.History)-1]
}

// IdentifierFromPublicKey computes the content-addressed Identifier for
// a root public key, independent of any Identity value.
func IdentifierFromPublicKey(pub vault.PublicKey) Identifier {
	sum := sha256.Sum256(pub)
	return Identifier(hex.EncodeToString(sum[:]))
}

// Create generates a fresh Ed25519 root signing key in v and derives a
// new Identity from it.
func Create(ctx context.Context, v *vault.Vault) (*Identity, error) {
	keyID, err := v.GenerateSecret(ctx, vault.SecretAttributes{
		Type:        vault.SecretTypeEd25519,
		Persistence: vault.Persistent,
	})
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "generate root key", err)
	}
	pub, err := v.PublicKey(ctx, keyID)
	if err != nil {
		return nil, ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "export root public key", err)
	}

	entry := ChangeHistoryEntry{
		KeyId:     keyID,
		PublicKey: pub,
		KeyType:   vault.SecretTypeEd25519,
		CreatedAt: time.Now(),
	}
	return &Identity{
		Identifier: IdentifierFromPublicKey(pub),
		History:    []ChangeHistoryEntry{entry},
	}, nil
}

// RotateKey generates a new signing key, signs its public key with the
// currently active key (binding the rotation into the change history),
// and appends the new entry. The Identifier never changes.
func (id *Identity) RotateKey(ctx context.Context, v *vault.Vault) error {
	prev := id.CurrentKey()

	newKeyID, err := v.GenerateSecret(ctx, vault.SecretAttributes{
		Type:        vault.SecretTypeEd25519,
		Persistence: vault.Persistent,
	})
	if err != nil {
		return ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "generate rotation key", err)
	}
	newPub, err := v.PublicKey(ctx, newKeyID)
	if err != nil {
		return ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "export rotation public key", err)
	}

	sig, err := v.Sign(ctx, prev.KeyId, newPub)
	if err != nil {
		return ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "sign rotation", err)
	}

	id.History = append(id.History, ChangeHistoryEntry{
		KeyId:        newKeyID,
		PublicKey:    newPub,
		KeyType:      vault.SecretTypeEd25519,
		SignedByPrev: sig,
		CreatedAt:    time.Now(),
	})
	return nil
}

// VerifyChangeHistory checks that every rotation in the chain is signed
// by the key it supersedes, and that the Identifier matches the first
// entry's public key.
func VerifyChangeHistory(identifier Identifier, history []ChangeHistoryEntry) bool {
	if len(history) == 0 {
		return false
	}
	if IdentifierFromPublicKey(history[0].PublicKey) != identifier {
		return false
	}
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if !vault.Verify(prev.KeyType, prev.PublicKey, cur.PublicKey, cur.SignedByPrev) {
			return false
		}
	}
	return true
}

// Sign signs data with this identity's current signing key.
func (id *Identity) Sign(ctx context.Context, v *vault.Vault, data []byte) (vault.Signature, error) {
	return v.Sign(ctx, id.CurrentKey().KeyId, data)
}
