package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/auth"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/repomanager"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "schedctl.db")
}

func loadAccount(t *testing.T, dsn, id string) *models.Account {
	t.Helper()
	db, dialect, err := dbx.Open(dsn)
	require.NoError(t, err)
	defer db.Close()
	repos, err := repomanager.NewRepositoryManager(dialect)
	require.NoError(t, err)
	acc, err := repos.Accounts(db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestServerURL(t *testing.T) {
	tests := map[string]string{
		":8080":         "http://localhost:8080",
		"0.0.0.0:9000":  "http://localhost:9000",
		"10.0.0.5:8080": "http://10.0.0.5:8080",
		"scheduler.lan": "http://scheduler.lan",
	}
	for addr, want := range tests {
		assert.Equal(t, want, serverURL(addr), addr)
	}
}

func TestMigrateAndAccountsAdd(t *testing.T) {
	dsn := tempDSN(t)

	out, err := run(t, "", "migrate", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "migrations applied\n", out)

	sk := nostr.GeneratePrivateKey()
	pk, err := nostrx.PublicKey(sk)
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pk)
	require.NoError(t, err)

	out, err = run(t, "", "accounts", "add", "main", "--dsn", dsn, "--id", "a1", "--pubkey", npub,
		"--channel", "api", "--endpoint", "https://api.example", "--active")
	require.NoError(t, err)
	assert.Equal(t, "a1\n", out)

	acc := loadAccount(t, dsn, "a1")
	assert.Equal(t, pk, acc.PubKey)
	assert.Equal(t, models.ChannelAPI, acc.Channel)
	assert.Equal(t, "https://api.example", acc.APIEndpoint)
	assert.True(t, acc.IsActive)

	_, err = run(t, "", "accounts", "add", "bad", "--dsn", dsn, "--pubkey", "not-a-key")
	assert.Error(t, err)

	pk2, err := nostrx.PublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	out, err = run(t, "", "accounts", "add", "second", "--dsn", dsn, "--id", "a2", "--pubkey", pk2, "--active")
	require.NoError(t, err)
	assert.Equal(t, "a2\n", out)
	assert.True(t, loadAccount(t, dsn, "a2").IsActive)
	assert.False(t, loadAccount(t, dsn, "a1").IsActive)

	_, err = run(t, "", "accounts", "add", "dup", "--dsn", dsn, "--id", "a2", "--pubkey", pk2, "--active")
	require.Error(t, err, "duplicate id")
	assert.True(t, loadAccount(t, dsn, "a2").IsActive, "failed add leaves the active account alone")
}

func TestKeysImport(t *testing.T) {
	keyring.MockInit()
	stubTerminal(t, false, nil, nil)
	dsn := tempDSN(t)

	sk := nostr.GeneratePrivateKey()
	pk, err := nostrx.PublicKey(sk)
	require.NoError(t, err)
	nsec, err := nip19.EncodePrivateKey(sk)
	require.NoError(t, err)

	_, err = run(t, "", "migrate", "--dsn", dsn)
	require.NoError(t, err)
	_, err = run(t, "", "accounts", "add", "main", "--dsn", dsn, "--id", "a1", "--pubkey", pk)
	require.NoError(t, err)

	out, err := run(t, nsec+"\n", "keys", "import", "a1", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "key for a1 stored in keyring\n", out)

	stored, err := keyring.Get("nostr-scheduler", "a1")
	require.NoError(t, err)
	assert.Equal(t, sk, stored)

	_, err = run(t, sk+"\n", "keys", "import", "a1", "--db", "--dsn", dsn)
	require.Error(t, err, "sealing needs a key encryption secret")
	assert.Empty(t, loadAccount(t, dsn, "a1").SealedKey)

	t.Setenv("NOSTR_SCHED_KEY_ENCRYPTION_SECRET", "correct horse battery")
	out, err = run(t, sk+"\n", "keys", "import", "a1", "--db", "--dsn", dsn)
	require.NoError(t, err)
	assert.Equal(t, "key for a1 stored in database\n", out)
	assert.NotEmpty(t, loadAccount(t, dsn, "a1").SealedKey)

	_, err = run(t, nostr.GeneratePrivateKey()+"\n", "keys", "import", "a1", "--dsn", dsn)
	assert.Error(t, err, "a key for another pubkey is rejected")

	_, err = run(t, sk+"\n", "keys", "import", "missing", "--dsn", dsn)
	assert.Error(t, err)
}

func TestKeysGen(t *testing.T) {
	out, err := run(t, "", "keys", "gen")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	nsec := strings.TrimPrefix(lines[0], "nsec: ")
	prefix, v, err := nip19.Decode(nsec)
	require.NoError(t, err)
	require.Equal(t, "nsec", prefix)

	pk, err := nostrx.PublicKey(v.(string))
	require.NoError(t, err)
	assert.Equal(t, "pubkey: "+pk, lines[2])
}

type controlCall struct {
	path string
	auth string
	body map[string]any
}

func controlServer(t *testing.T) (*httptest.Server, *[]controlCall) {
	t.Helper()
	var calls []controlCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := controlCall{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		calls = append(calls, c)

		switch r.URL.Path {
		case "/api/posts":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"p1","status":"pending"}`))
		case "/api/posts/p1/publish":
			_, _ = w.Write([]byte(`{"event_id":"ev1"}`))
		case "/api/signing/trigger":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"post not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSchedule(t *testing.T) {
	srv, calls := controlServer(t)

	out, err := run(t, "", "schedule", "n1", "--server", srv.URL, "--token", "tok",
		"--at", "2024-05-01T12:00:00Z", "--channel", "api")
	require.NoError(t, err)
	assert.Equal(t, "p1\n", out)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "Bearer tok", c.auth)
	assert.Equal(t, "n1", c.body["note_id"])
	assert.Equal(t, "2024-05-01T12:00:00Z", c.body["due_at"])
	assert.Equal(t, "api", c.body["channel"])
}

func TestSchedule_RelativeDueTime(t *testing.T) {
	srv, calls := controlServer(t)
	orig := now
	now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = orig })

	_, err := run(t, "", "schedule", "n1", "--server", srv.URL, "--in", "90m")
	require.NoError(t, err)
	require.Len(t, *calls, 1)
	assert.Equal(t, "2024-05-01T13:30:00Z", (*calls)[0].body["due_at"])
	assert.Empty(t, (*calls)[0].auth)
}

func TestSchedule_DueTimeFlags(t *testing.T) {
	srv, calls := controlServer(t)

	_, err := run(t, "", "schedule", "n1", "--server", srv.URL)
	assert.Error(t, err)
	_, err = run(t, "", "schedule", "n1", "--server", srv.URL, "--at", "tomorrow")
	assert.Error(t, err)
	_, err = run(t, "", "schedule", "n1", "--server", srv.URL, "--at", "2024-05-01T12:00:00Z", "--in", "1h")
	assert.Error(t, err)
	assert.Empty(t, *calls)
}

func TestPublishNowAndSign_MintedToken(t *testing.T) {
	srv, calls := controlServer(t)
	t.Setenv("NOSTR_SCHED_CONTROL_JWT_SECRET", "control-secret")

	out, err := run(t, "", "publish-now", "p1", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ev1\n", out)

	out, err = run(t, "", "sign", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "signing pass requested\n", out)

	_, err = run(t, "", "publish-now", "nope", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post not found")

	require.Len(t, *calls, 3)
	tok := strings.TrimPrefix((*calls)[0].auth, "Bearer ")
	claims, err := auth.ParseToken(tok, []byte("control-secret"))
	require.NoError(t, err)
	assert.Equal(t, "schedctl", claims.Subject)
}
