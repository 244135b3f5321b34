// Package keystore resolves an account's private signing key. The OS
// keyring is always tried first; a key sealed in the database with the
// operator passphrase comes second; a legacy plaintext column is accepted
// last and only so that old accounts keep working until they are migrated.
package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/cryptox"
	"github.com/dmitrijs2005/nostr-scheduler/internal/logging"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/zalando/go-keyring"
)

// Keyring is the secure OS store.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
}

// SealedKeyWriter persists a sealed key on the account record.
type SealedKeyWriter interface {
	SetSealedKey(ctx context.Context, accountID, sealed string) error
}

// OSKeyring is the go-keyring backed Keyring.
type OSKeyring struct{}

func (OSKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (OSKeyring) Set(service, user, secret string) error   { return keyring.Set(service, user, secret) }

type Store struct {
	ring       Keyring
	service    string
	passphrase string
	logger     logging.Logger
}

// New returns a Store. ring may be nil when no OS keyring is available;
// passphrase may be empty when sealed database keys are not used.
func New(ring Keyring, service, passphrase string, logger logging.Logger) *Store {
	if service == "" {
		service = common.DefaultKeyringService
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{ring: ring, service: service, passphrase: passphrase, logger: logger.With("module", "keystore")}
}

// PrivateKey returns acc's private key as hex, or common.ErrNoPrivateKey.
func (s *Store) PrivateKey(ctx context.Context, acc *models.Account) (string, error) {
	if s.ring != nil {
		secret, err := s.ring.Get(s.service, keyringUser(acc))
		switch {
		case err == nil:
			return nostrx.NormalizeSecretKey(secret)
		case errors.Is(err, keyring.ErrNotFound):
		default:
			s.logger.Warn(ctx, "keyring lookup failed, trying database", "account_id", acc.ID, "error", err)
		}
	}

	if acc.SealedKey != "" {
		if s.passphrase == "" {
			s.logger.Warn(ctx, "sealed key present but no key encryption secret configured", "account_id", acc.ID)
		} else {
			raw, err := cryptox.Open(acc.SealedKey, s.passphrase)
			if err != nil {
				return "", fmt.Errorf("%w: sealed key: %v", common.ErrNoPrivateKey, err)
			}
			defer cryptox.WipeByteArray(raw)
			return nostrx.NormalizeSecretKey(string(raw))
		}
	}

	if acc.LegacyPrivateKey != "" {
		s.logger.Warn(ctx, "using legacy plaintext private key; run 'schedctl keys import' to migrate it", "account_id", acc.ID)
		return nostrx.NormalizeSecretKey(acc.LegacyPrivateKey)
	}

	return "", common.ErrNoPrivateKey
}

// Import stores key for acc. The keyring is used unless toDB is set or no
// keyring is configured, in which case the key is sealed and written through w.
func (s *Store) Import(ctx context.Context, acc *models.Account, key string, toDB bool, w SealedKeyWriter) error {
	sk, err := nostrx.NormalizeSecretKey(key)
	if err != nil {
		return err
	}

	pk, err := nostrx.PublicKey(sk)
	if err != nil {
		return err
	}
	if acc.PubKey != "" && pk != acc.PubKey {
		return common.ErrKeyMismatch
	}

	if s.ring != nil && !toDB {
		if err := s.ring.Set(s.service, keyringUser(acc), sk); err != nil {
			return fmt.Errorf("keyring set: %w", err)
		}
		s.logger.Info(ctx, "private key stored in keyring", "account_id", acc.ID)
		return nil
	}

	if err := cryptox.CheckPassphrase(s.passphrase); err != nil {
		return fmt.Errorf("cannot seal key in database: %w", err)
	}
	sealed, err := cryptox.Seal([]byte(sk), s.passphrase)
	if err != nil {
		return err
	}
	if err := w.SetSealedKey(ctx, acc.ID, sealed); err != nil {
		return fmt.Errorf("store sealed key: %w", err)
	}
	s.logger.Info(ctx, "private key sealed in database", "account_id", acc.ID)
	return nil
}

func keyringUser(acc *models.Account) string {
	if acc.KeyringRef != "" {
		return acc.KeyringRef
	}
	return acc.ID
}
