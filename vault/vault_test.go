package vault

import (
	"context"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

func TestKeyIdStability(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	id, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeX25519, Persistence: Ephemeral})
	require.NoError(t, err)

	pub, err := v.PublicKey(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, v.KeyIdOf(pub))
}

func TestHkdfSha256MatchesRFC5869Windows(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	salt := make([]byte, 32) // all-zero salt, per spec scenario 2
	ikm := []byte("Noise_XX_25519_AESGCM_SHA256\x00\x00\x00\x00")
	require.Len(t, ikm, 32)

	saltID, err := v.ImportSecret(ctx, salt, SecretAttributes{Type: SecretTypeBuffer, Persistence: Ephemeral, Length: 32})
	require.NoError(t, err)
	ikmID, err := v.ImportSecret(ctx, ikm, SecretAttributes{Type: SecretTypeBuffer, Persistence: Ephemeral, Length: 32})
	require.NoError(t, err)

	outputIDs, err := v.HkdfSha256(ctx, saltID, []byte(""), &ikmID, []SecretAttributes{
		{Type: SecretTypeBuffer, Persistence: Ephemeral, Length: 32},
		{Type: SecretTypeAES256, Persistence: Ephemeral},
	})
	require.NoError(t, err)
	require.Len(t, outputIDs, 2)

	got0, err := v.ExportSecret(ctx, outputIDs[0])
	require.NoError(t, err)
	got1, err := v.ExportSecret(ctx, outputIDs[1])
	require.NoError(t, err)

	reader := hkdf.New(sha256.New, ikm, salt, []byte(""))
	expanded := make([]byte, 64)
	_, err = io.ReadFull(reader, expanded)
	require.NoError(t, err)

	assert.Equal(t, expanded[0:32], got0)
	assert.Equal(t, expanded[32:64], got1)
	assert.NotEqual(t, got0, got1)
}

func TestAeadRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	id, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeAES256, Persistence: Ephemeral})
	require.NoError(t, err)

	nonce := make([]byte, 12)
	aad := []byte("handshake-hash")
	ciphertext, err := v.AeadAesGcmEncrypt(ctx, id, []byte("ping"), nonce, aad)
	require.NoError(t, err)
	assert.Len(t, ciphertext, len("ping")+16)

	plaintext, err := v.AeadAesGcmDecrypt(ctx, id, ciphertext, nonce, aad)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), plaintext)

	ciphertext[0] ^= 0x01
	_, err = v.AeadAesGcmDecrypt(ctx, id, ciphertext, nonce, aad)
	assert.ErrorIs(t, err, ErrAeadDecryptFailed)
}

func TestEcdhAgreement(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	aID, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeX25519, Persistence: Ephemeral})
	require.NoError(t, err)
	bID, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeX25519, Persistence: Ephemeral})
	require.NoError(t, err)

	aPub, err := v.PublicKey(ctx, aID)
	require.NoError(t, err)
	bPub, err := v.PublicKey(ctx, bID)
	require.NoError(t, err)

	sharedA, err := v.Ecdh(ctx, aID, bPub)
	require.NoError(t, err)
	sharedB, err := v.Ecdh(ctx, bID, aPub)
	require.NoError(t, err)

	secretA, err := v.ExportSecret(ctx, sharedA)
	require.NoError(t, err)
	secretB, err := v.ExportSecret(ctx, sharedB)
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}

func TestSignVerify(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	id, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeEd25519, Persistence: Ephemeral})
	require.NoError(t, err)
	pub, err := v.PublicKey(ctx, id)
	require.NoError(t, err)

	sig, err := v.Sign(ctx, id, []byte("root-key-binding"))
	require.NoError(t, err)
	assert.True(t, Verify(SecretTypeEd25519, pub, []byte("root-key-binding"), sig))
	assert.False(t, Verify(SecretTypeEd25519, pub, []byte("tampered"), sig))
}

func TestDestroy(t *testing.T) {
	ctx := context.Background()
	v := New(NewMemoryStorage())

	id, err := v.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeAES256, Persistence: Ephemeral})
	require.NoError(t, err)

	assert.True(t, v.Destroy(ctx, id))
	_, err = v.ExportSecret(ctx, id)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPersistentSecretSurvivesNewVaultOverSameStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	v1 := New(storage)

	id, err := v1.GenerateSecret(ctx, SecretAttributes{Type: SecretTypeAES256, Persistence: Persistent})
	require.NoError(t, err)
	want, err := v1.ExportSecret(ctx, id)
	require.NoError(t, err)

	v2 := New(storage)
	got, err := v2.ExportSecret(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
