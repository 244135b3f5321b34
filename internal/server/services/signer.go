package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/nbd-wtf/go-nostr"
)

// signer turns a pending post into a signed one.
type signer struct {
	*lifecycle
	difficulty int
}

// credentials resolves the account for accountID and its private key. The
// key must belong to the account: a mismatched key never signs anything.
func (s *signer) credentials(ctx context.Context, accountID string) (*models.Account, string, error) {
	acc, err := s.account(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	sk, err := s.Keys.PrivateKey(ctx, acc)
	if err != nil {
		return acc, "", err
	}
	pk, err := nostrx.PublicKey(sk)
	if err != nil {
		return acc, "", fmt.Errorf("%w: %v", common.ErrNoPrivateKey, err)
	}
	if acc.PubKey != "" && pk != acc.PubKey {
		return acc, "", common.ErrKeyMismatch
	}
	return acc, sk, nil
}

// event builds the event for note and signs it. With a difficulty set the
// signed event is mined and signed again, since the nonce tag changes the
// hash the first signature covered.
func (s *signer) event(ctx context.Context, note *models.Note, sk string) (*nostr.Event, error) {
	ev := nostrx.Build(note, s.Now())
	if err := nostrx.Sign(&ev, sk); err != nil {
		return nil, err
	}

	if s.difficulty > 0 {
		if s.Miner == nil {
			return nil, fmt.Errorf("%w: no miner configured", common.ErrMiningFailed)
		}
		start := time.Now()
		mined, err := s.Miner.Mine(ctx, ev, s.difficulty)
		s.Metrics.ObserveMining(time.Since(start))
		if err != nil {
			return nil, err
		}
		ev = mined
		if err := nostrx.Sign(&ev, sk); err != nil {
			return nil, err
		}
	}

	if err := nostrx.Verify(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// signPost claims post (pending → signing), signs its note and stores the
// payload (signing → signed). A lost claim returns
// common.ErrInvalidTransition and leaves the post untouched; any later
// error marks the post failed.
func (s *signer) signPost(ctx context.Context, post *models.Post, sk string) error {
	repo := s.Repos.Posts(s.DB)
	if err := repo.UpdateStatus(ctx, post.ID, models.StatusSigning, models.StatusUpdate{}); err != nil {
		return err
	}
	post.Status = models.StatusSigning

	err := s.sign(ctx, post, sk)
	if err != nil {
		s.fail(ctx, post, stageSigning, err)
		return err
	}
	s.Metrics.IncSigned()
	s.Logger.Debug(ctx, "post signed", "post_id", post.ID, "account_id", post.AccountID)
	return nil
}

func (s *signer) sign(ctx context.Context, post *models.Post, sk string) error {
	note, err := s.Repos.Notes(s.DB).GetByID(ctx, post.NoteID)
	if err != nil {
		return err
	}
	ev, err := s.event(ctx, note, sk)
	if err != nil {
		return err
	}
	payload, err := nostrx.Encode(ev)
	if err != nil {
		return err
	}
	if err := s.Repos.Posts(s.DB).UpdateStatus(context.WithoutCancel(ctx), post.ID, models.StatusSigned, models.StatusUpdate{SignedEvent: &payload}); err != nil {
		return fmt.Errorf("store signed event: %w", err)
	}
	post.Status = models.StatusSigned
	post.SignedEvent = payload
	return nil
}
