package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/build-trust/ockam-go/vault"
)

func newVault() *vault.Vault {
	return vault.New(vault.NewMemoryStorage())
}

func TestCreateIdentifierIsStableUnderRotation(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	id, err := Create(ctx, v)
	require.NoError(t, err)
	original := id.Identifier

	require.NoError(t, id.RotateKey(ctx, v))
	assert.Equal(t, original, id.Identifier)
	assert.Len(t, id.History, 2)
}

func TestVerifyChangeHistoryDetectsTampering(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	id, err := Create(ctx, v)
	require.NoError(t, err)
	require.NoError(t, id.RotateKey(ctx, v))

	assert.True(t, VerifyChangeHistory(id.Identifier, id.History))

	tampered := make([]ChangeHistoryEntry, len(id.History))
	copy(tampered, id.History)
	tampered[1].SignedByPrev = append([]byte(nil), tampered[1].SignedByPrev...)
	tampered[1].SignedByPrev[0] ^= 0xFF
	assert.False(t, VerifyChangeHistory(id.Identifier, tampered))
}

func TestIssueAndVerifyCredential(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	issuer, err := Create(ctx, v)
	require.NoError(t, err)
	subject, err := Create(ctx, v)
	require.NoError(t, err)

	cred, err := IssueCredential(ctx, v, issuer, issuer.CurrentKey().KeyId, subject.Identifier,
		map[string]string{"role": "forwarder"}, 0)
	require.NoError(t, err)

	tc := NewTrustContext(Authority{Identifier: issuer.Identifier, History: issuer.History})
	got, err := tc.VerifySubjectAttributes([]Credential{cred}, map[string]string{"role": "forwarder"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, subject.Identifier, got)
}

func TestVerifyCredentialRejectsExpired(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	issuer, err := Create(ctx, v)
	require.NoError(t, err)
	subject, err := Create(ctx, v)
	require.NoError(t, err)

	cred, err := IssueCredential(ctx, v, issuer, issuer.CurrentKey().KeyId, subject.Identifier, nil, time.Hour)
	require.NoError(t, err)

	err = VerifyCredential(cred, issuer.History, time.Now().Add(2*time.Hour))
	assert.Error(t, err)
}

func TestVerifyCredentialRejectsUntrustedIssuer(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	issuer, err := Create(ctx, v)
	require.NoError(t, err)
	otherAuthority, err := Create(ctx, v)
	require.NoError(t, err)
	subject, err := Create(ctx, v)
	require.NoError(t, err)

	cred, err := IssueCredential(ctx, v, issuer, issuer.CurrentKey().KeyId, subject.Identifier, nil, 0)
	require.NoError(t, err)

	tc := NewTrustContext(Authority{Identifier: otherAuthority.Identifier, History: otherAuthority.History})
	_, err = tc.VerifySubjectAttributes([]Credential{cred}, nil, time.Now())
	assert.Error(t, err)
}

func TestCredentialEncodeDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newVault()

	issuer, err := Create(ctx, v)
	require.NoError(t, err)
	subject, err := Create(ctx, v)
	require.NoError(t, err)

	cred, err := IssueCredential(ctx, v, issuer, issuer.CurrentKey().KeyId, subject.Identifier,
		map[string]string{"role": "relay"}, 0)
	require.NoError(t, err)

	encoded, err := cred.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCredential(encoded)
	require.NoError(t, err)
	assert.Equal(t, cred.Subject, decoded.Subject)
	assert.Equal(t, cred.Issuer, decoded.Issuer)
	assert.NoError(t, VerifyCredential(decoded, issuer.History, time.Now()))
}

func TestAllowIdentifiersPolicy(t *testing.T) {
	policy := AllowIdentifiers("abc", "def")
	assert.True(t, policy.Check("abc"))
	assert.False(t, policy.Check("xyz"))
	assert.True(t, AllowAnyIdentity().Check("anything"))
}
