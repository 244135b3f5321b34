// Package nostrx turns notes into signed nostr events and moves signed
// events in and out of their stored JSON form.
package nostrx

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// KindTextNote is the event kind of a short text note.
const KindTextNote = 1

// Build returns the unsigned event for note. Note tags become "t" tags and a
// title becomes a "subject" tag.
func Build(note *models.Note, createdAt time.Time) nostr.Event {
	tags := nostr.Tags{}
	seen := make(map[string]struct{}, len(note.Tags))
	for _, t := range note.Tags {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, nostr.Tag{"t", t})
	}
	if title := strings.TrimSpace(note.Title); title != "" {
		tags = append(tags, nostr.Tag{"subject", title})
	}

	return nostr.Event{
		Kind:      KindTextNote,
		CreatedAt: nostr.Timestamp(createdAt.Unix()),
		Tags:      tags,
		Content:   note.Content,
	}
}

// NormalizeSecretKey accepts a hex or nsec encoded private key and returns
// it as lowercase hex.
func NormalizeSecretKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "nsec1") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", fmt.Errorf("decode nsec: %w", err)
		}
		hex, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", fmt.Errorf("decode nsec: unexpected %q payload", prefix)
		}
		key = hex
	}
	key = strings.ToLower(key)
	if !nostr.IsValid32ByteHex(key) {
		return "", fmt.Errorf("private key must be 32 bytes of hex or nsec")
	}
	return key, nil
}

// PublicKey derives the hex public key for a hex private key.
func PublicKey(sk string) (string, error) {
	return nostr.GetPublicKey(sk)
}

// Sign sets the event's pubkey, id and signature.
func Sign(ev *nostr.Event, sk string) error {
	if err := ev.Sign(sk); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

// Verify checks that the id matches the content hash and that the signature
// is valid for the pubkey.
func Verify(ev *nostr.Event) error {
	if ev.ID != ev.GetID() {
		return fmt.Errorf("%w: id does not match content hash", common.ErrInvalidEvent)
	}
	ok, err := ev.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidEvent, err)
	}
	if !ok {
		return fmt.Errorf("%w: bad signature", common.ErrInvalidEvent)
	}
	return nil
}

// Encode serializes a signed event for storage on the post.
func Encode(ev *nostr.Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(b), nil
}

// Decode parses and verifies a stored signed event.
func Decode(payload string) (*nostr.Event, error) {
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", common.ErrInvalidEvent)
	}
	var ev nostr.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidEvent, err)
	}
	if err := Verify(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Permalink returns base followed by the note1… encoding of eventID, or ""
// if eventID is not a valid event id.
func Permalink(base, eventID string) string {
	if base == "" || !nostr.IsValid32ByteHex(eventID) {
		return ""
	}
	note, err := nip19.EncodeNote(eventID)
	if err != nil {
		return ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + note
}
