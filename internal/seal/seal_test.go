package seal_test

import (
	"testing"

	"github.com/jrsteele09/go-ehr-connect/internal/seal"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSealer_RoundTrip(t *testing.T) {
	s, err := seal.New(testSecret, "cookies")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("code-verifier-value"))
	require.NoError(t, err)
	require.NotContains(t, sealed, "code-verifier-value")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "code-verifier-value", string(opened))
}

func TestSealer_Tampered(t *testing.T) {
	s, err := seal.New(testSecret, "cookies")
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("value"))
	require.NoError(t, err)

	b := []byte(sealed)
	if b[10] == 'A' {
		b[10] = 'B'
	} else {
		b[10] = 'A'
	}
	_, err = s.Open(string(b))
	require.ErrorIs(t, err, seal.ErrInvalidSealed)

	_, err = s.Open("short")
	require.ErrorIs(t, err, seal.ErrInvalidSealed)
}

func TestSealer_PurposeSeparation(t *testing.T) {
	cookies, err := seal.New(testSecret, "cookies")
	require.NoError(t, err)
	storage, err := seal.New(testSecret, "storage")
	require.NoError(t, err)

	sealed, err := cookies.Seal([]byte("value"))
	require.NoError(t, err)
	_, err = storage.Open(sealed)
	require.ErrorIs(t, err, seal.ErrInvalidSealed)
}

func TestNew_ShortSecret(t *testing.T) {
	_, err := seal.New([]byte("short"), "cookies")
	require.Error(t, err)
}
