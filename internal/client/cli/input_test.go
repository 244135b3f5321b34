package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func stubTerminal(t *testing.T, tty bool, secret []byte, err error) {
	t.Helper()
	origTTY, origRead := isTerminal, readPassword
	isTerminal = func(int) bool { return tty }
	readPassword = func(int) ([]byte, error) { return secret, err }
	t.Cleanup(func() { isTerminal, readPassword = origTTY, origRead })
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}
}

func TestGetSecret_Terminal(t *testing.T) {
	stubTerminal(t, true, []byte("nsec1xyz"), nil)

	var out bytes.Buffer
	got, err := GetSecret(rdr(""), "Private key", &out)
	require.NoError(t, err)
	require.Equal(t, "nsec1xyz", string(got))
	require.Equal(t, "Private key: \n", out.String())
}

func TestGetSecret_TerminalError(t *testing.T) {
	stubTerminal(t, true, nil, errors.New("boom"))

	var out bytes.Buffer
	_, err := GetSecret(rdr(""), "Private key", &out)
	require.Error(t, err)
}

func TestGetSecret_Piped(t *testing.T) {
	stubTerminal(t, false, nil, nil)

	var out bytes.Buffer
	got, err := GetSecret(rdr("  abcd  \nignored\n"), "Private key", &out)
	require.NoError(t, err)
	require.Equal(t, "abcd", string(got))
	require.Empty(t, out.String(), "no prompt for piped input")

	_, err = GetSecret(rdr(""), "Private key", &out)
	require.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte("secret")
	wipe(b)
	require.Equal(t, make([]byte, 6), b)
}
