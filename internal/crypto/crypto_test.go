package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := NewSealer("master-key")
	require.NoError(t, err)

	sealed, err := s.Seal("api-secret-123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "api-secret-123")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-secret-123", plain)
}

func TestSealUniqueCiphertexts(t *testing.T) {
	s, err := NewSealer("master-key")
	require.NoError(t, err)

	a, err := s.Seal("same")
	require.NoError(t, err)
	b, err := s.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh salt and nonce per seal")
}

func TestOpenWrongMasterKey(t *testing.T) {
	s1, err := NewSealer("key-one")
	require.NoError(t, err)
	sealed, err := s1.Seal("secret")
	require.NoError(t, err)

	s2, err := NewSealer("key-two")
	require.NoError(t, err)
	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	s, err := NewSealer("master-key")
	require.NoError(t, err)

	_, err = s.Open("not json")
	assert.Error(t, err)

	_, err = s.Open(`{"version":99,"salt":"","nonce":"","ciphertext":""}`)
	assert.Error(t, err)
}

func TestNewSealerEmptyKey(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)
}

func TestHexHMACSHA256(t *testing.T) {
	// Known vector: HMAC-SHA256("key", "message").
	got := HexHMACSHA256("key", "message")
	assert.Equal(t, "6e9ef29b75fffc5b7abae527d58fdadb2fe42e7219011976917343065f58ed4a", got)
}

func TestSHA512Hex(t *testing.T) {
	got := SHA512Hex("market=KRW-BTC")
	assert.Len(t, got, 128)
	assert.Equal(t, strings.ToLower(got), got)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "****", Redact("abc"))
	assert.Equal(t, "abcd****", Redact("abcdefgh"))
}
