package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/build-trust/ockam-go/identity"
	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
)

// IdentityPayload is what each side's Noise message 2/3 payload actually
// carries: enough of its identity's change history to verify the
// Identifier is self-consistent, a signature binding this handshake's
// static DH key to that identity, and whatever credentials the
// peer wants to present for trust-context evaluation.
type IdentityPayload struct {
	Identifier  identity.Identifier          `cbor:"identifier"`
	History     []identity.ChangeHistoryEntry `cbor:"history"`
	StaticKeySig vault.Signature             `cbor:"static_key_sig"`
	Credentials []identity.Credential        `cbor:"credentials,omitempty"`
}

// buildIdentityPayload signs staticPub with id's current signing key and
// bundles in whatever credentials the caller wants the peer to see.
func buildIdentityPayload(ctx context.Context, v *vault.Vault, id *identity.Identity, staticPub vault.PublicKey, credentials []identity.Credential) ([]byte, error) {
	sig, err := id.Sign(ctx, v, staticPub)
	if err != nil {
		return nil, fmt.Errorf("channel: sign static key: %w", err)
	}
	payload := IdentityPayload{
		Identifier:   id.Identifier,
		History:      id.History,
		StaticKeySig: sig,
		Credentials:  credentials,
	}
	out, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("channel: encode identity payload: %w", err)
	}
	return out, nil
}

// VerifiedPeer is what a successful handshake learns about the other side.
type VerifiedPeer struct {
	Identifier  identity.Identifier
	Credentials []identity.Credential
}

// verifyIdentityPayload decodes raw, checks its change history is
// internally consistent, checks its signature actually binds staticPub
// to that identity, and applies policy. trust may be nil if no
// credentials are required.
func verifyIdentityPayload(raw []byte, staticPub vault.PublicKey, policy identity.TrustPolicy, trust *identity.TrustContext) (VerifiedPeer, error) {
	var payload IdentityPayload
	if err := cbor.Unmarshal(raw, &payload); err != nil {
		return VerifiedPeer{}, fmt.Errorf("channel: decode identity payload: %w", err)
	}

	if !identity.VerifyChangeHistory(payload.Identifier, payload.History) {
		return VerifiedPeer{}, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindInvalid, "peer change history does not verify")
	}

	current := payload.History[len(payload.History)-1]
	if !vault.Verify(current.KeyType, current.PublicKey, staticPub, payload.StaticKeySig) {
		return VerifiedPeer{}, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindInvalid, "peer did not prove ownership of its static key")
	}

	if policy != nil && !policy.Check(payload.Identifier) {
		return VerifiedPeer{}, ockamerr.New(ockamerr.OriginChannel, ockamerr.KindInvalid, "peer identity rejected by trust policy")
	}

	if trust != nil && len(payload.Credentials) > 0 {
		if _, err := trust.VerifySubjectAttributes(payload.Credentials, nil, time.Now()); err != nil {
			return VerifiedPeer{}, fmt.Errorf("channel: credential verification failed: %w", err)
		}
	}

	return VerifiedPeer{Identifier: payload.Identifier, Credentials: payload.Credentials}, nil
}
