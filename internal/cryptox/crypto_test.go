package cryptox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	secret := []byte("5f0c0e6b8b0c4f0f9a6e1d2c3b4a5968778695a4b3c2d1e0f1e2d3c4b5a69788")

	sealed, err := Seal(secret, "correct horse")
	require.NoError(t, err)
	assert.NotContains(t, sealed, string(secret))

	got, err := Open(sealed, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestSeal_UsesFreshSaltAndNonce(t *testing.T) {
	a, err := Seal([]byte("same"), "pw")
	require.NoError(t, err)
	b, err := Seal([]byte("same"), "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSeal_EmptyPassphrase(t *testing.T) {
	_, err := Seal([]byte("x"), "")
	require.Error(t, err)
}

func TestCheckPassphrase(t *testing.T) {
	for _, weak := range []string{"", "change-me", "CHANGE-ME", "short"} {
		assert.ErrorIs(t, CheckPassphrase(weak), ErrWeakPassphrase, weak)
	}
	assert.NoError(t, CheckPassphrase("correct horse battery"))
}

func TestOpen_WrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("secret"), "right")
	require.NoError(t, err)

	_, err = Open(sealed, "wrong")
	require.Error(t, err)
}

func TestOpen_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		sealed string
	}{
		{name: "not base64", sealed: "***"},
		{name: "too short for salt", sealed: base64.StdEncoding.EncodeToString([]byte("short"))},
		{name: "too short for nonce", sealed: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, saltSize+4))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.sealed, "pw")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSealedFormat))
		})
	}
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := DeriveMasterKey([]byte("pw"), salt)
	b := DeriveMasterKey([]byte("pw"), salt)
	assert.Len(t, a, keySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DeriveMasterKey([]byte("pw2"), salt))
}

func TestWipeByteArray(t *testing.T) {
	buf := []byte{1, 2, 3}
	WipeByteArray(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
	WipeByteArray(nil)
}
