package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/build-trust/ockam-go/ockamerr"
	"github.com/build-trust/ockam-go/vault"
)

// DefaultMaxValidity is the longest validity window a credential may
// carry: IssueCredential clamps to it and VerifyCredential rejects any
// longer window. Nothing in this package raises it.
const DefaultMaxValidity = 30 * 24 * time.Hour

// Credential is an issuer's signed attestation that Subject holds the
// listed Attributes, valid for the [NotBefore, NotAfter) window.
// IssuerKeyLabel names which of the issuer's historical signing keys
// produced Signature, so a credential remains verifiable across the
// issuer's own key rotations.
type Credential struct {
	Subject        Identifier        `cbor:"subject"`
	Issuer         Identifier        `cbor:"issuer"`
	IssuerKeyLabel string            `cbor:"issuer_key_label"`
	Attributes     map[string]string `cbor:"attributes"`
	NotBefore      time.Time         `cbor:"not_before"`
	NotAfter       time.Time         `cbor:"not_after"`
	Signature      vault.Signature   `cbor:"signature,omitempty"`
}

// signingBytes is what Signature actually covers -- the credential with
// its own signature field stripped, CBOR-encoded deterministically.
func (c Credential) signingBytes() ([]byte, error) {
	unsigned := c
	unsigned.Signature = nil
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("identity: encode credential: %w", err)
	}
	out, err := em.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("identity: encode credential: %w", err)
	}
	return out, nil
}

// Encode renders the full, signed credential to CBOR for transport.
func (c Credential) Encode() ([]byte, error) {
	out, err := cbor.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("identity: encode credential: %w", err)
	}
	return out, nil
}

// DecodeCredential parses a CBOR-encoded Credential.
func DecodeCredential(data []byte) (Credential, error) {
	var c Credential
	if err := cbor.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("identity: decode credential: %w", err)
	}
	return c, nil
}

// IssueCredential signs a new Credential attesting attributes about
// subject, using issuer's signing key identified by keyLabel (one of
// issuer.History's KeyId values).
func IssueCredential(ctx context.Context, v *vault.Vault, issuer *Identity, keyLabel vault.KeyId, subject Identifier, attributes map[string]string, validity time.Duration) (Credential, error) {
	if validity <= 0 || validity > DefaultMaxValidity {
		validity = DefaultMaxValidity
	}
	now := time.Now()
	c := Credential{
		Subject:        subject,
		Issuer:         issuer.Identifier,
		IssuerKeyLabel: string(keyLabel),
		Attributes:     attributes,
		NotBefore:      now,
		NotAfter:       now.Add(validity),
	}

	toSign, err := c.signingBytes()
	if err != nil {
		return Credential{}, err
	}
	sig, err := v.Sign(ctx, keyLabel, toSign)
	if err != nil {
		return Credential{}, ockamerr.Wrap(ockamerr.OriginIdentity, ockamerr.KindInternal, "sign credential", err)
	}
	c.Signature = sig
	return c, nil
}

// VerifyCredential checks c's signature against the issuer's change
// history (resolving IssuerKeyLabel to the public key that produced it)
// and that now falls within [NotBefore, NotAfter).
func VerifyCredential(c Credential, issuerHistory []ChangeHistoryEntry, now time.Time) error {
	if now.Before(c.NotBefore) || !now.Before(c.NotAfter) {
		return ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "credential outside its validity window")
	}
	if c.NotAfter.Sub(c.NotBefore) > DefaultMaxValidity {
		return ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "credential validity window exceeds maximum")
	}

	var signer *ChangeHistoryEntry
	for i := range issuerHistory {
		if string(issuerHistory[i].KeyId) == c.IssuerKeyLabel {
			signer = &issuerHistory[i]
			break
		}
	}
	if signer == nil {
		return ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindNotFound, "unknown issuer key label: "+c.IssuerKeyLabel)
	}

	toVerify, err := c.signingBytes()
	if err != nil {
		return err
	}
	if !vault.Verify(signer.KeyType, signer.PublicKey, toVerify, c.Signature) {
		return ockamerr.New(ockamerr.OriginIdentity, ockamerr.KindInvalid, "credential signature does not verify")
	}
	return nil
}
