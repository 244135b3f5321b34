package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/client/client"
	"github.com/dmitrijs2005/nostr-scheduler/internal/dbx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/keystore"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/auth"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/config"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/repositories/repomanager"
)

const (
	tokenSubject  = "schedctl"
	tokenValidity = 5 * time.Minute
)

// newKeyring is a test seam; tests call keyring.MockInit instead of touching
// the OS keyring.
var newKeyring = func() keystore.Keyring { return keystore.OSKeyring{} }

// App carries what every command shares once the root flags are parsed.
type App struct {
	opts   *RootOptions
	cfg    *config.Config
	logger logging.Logger
	in     *bufio.Reader
	out    io.Writer
}

// store is an open database with its repositories.
type store struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func (s *store) Close() error { return s.db.Close() }

func (a *App) openStore(ctx context.Context) (*store, error) {
	db, dialect, err := dbx.Open(a.cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	repos, err := repomanager.NewRepositoryManager(dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &store{db: db, repos: repos}, nil
}

func (a *App) keystore() *keystore.Store {
	return keystore.New(newKeyring(), a.cfg.KeyringService, a.cfg.KeyEncryptionSecret, a.logger)
}

// control returns a client for the daemon. Without an explicit --token a
// short-lived one is minted from the configured control secret.
func (a *App) control() (*client.ControlClient, error) {
	token := a.opts.Token
	if token == "" && a.cfg.ControlJWTSecret != "" {
		t, err := auth.GenerateToken(tokenSubject, "", []byte(a.cfg.ControlJWTSecret), tokenValidity)
		if err != nil {
			return nil, fmt.Errorf("mint control token: %w", err)
		}
		token = t
	}

	server := a.opts.Server
	if server == "" {
		server = serverURL(a.cfg.HTTPAddr)
	}
	return client.NewControlClient(server, token, nil)
}

// serverURL turns a listen address such as ":8080" into a URL a local
// client can dial.
func serverURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
