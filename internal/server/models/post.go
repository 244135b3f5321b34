// Package models defines the records persisted by the scheduler: notes,
// the posts that schedule them, and the accounts that sign them.
package models

import "time"

// Status is a post's position in the publication lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSigning   Status = "signing"
	StatusSigned    Status = "signed"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// transitions lists, for every target status, the statuses a post may be in
// beforehand. pending → published/failed is the sign-at-publish-time path.
var transitions = map[Status][]Status{
	StatusSigning:   {StatusPending},
	StatusSigned:    {StatusSigning},
	StatusPublished: {StatusSigned, StatusPending},
	StatusFailed:    {StatusPending, StatusSigning, StatusSigned},
}

// AllowedFrom returns the statuses from which a post may move to s.
func AllowedFrom(s Status) []Status {
	return transitions[s]
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed
}

// Post is one scheduled publication of a note.
type Post struct {
	ID     string
	NoteID string
	// AccountID is empty for posts that use the active account.
	AccountID string
	DueAt     time.Time

	Status       Status
	ErrorMessage string
	PublishedAt  *time.Time
	EventID      string
	Permalink    string

	// Channel and APIEndpoint are per-post overrides of the account defaults.
	Channel     Channel
	APIEndpoint string

	// SignedEvent is the serialized signed event; once set it never changes.
	SignedEvent string
	// Presign marks posts created by Schedule. Posts without it predate
	// pre-signing and are signed when the scheduler publishes them.
	Presign bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusUpdate carries the optional fields written together with a status.
type StatusUpdate struct {
	ErrorMessage *string
	PublishedAt  *time.Time
	EventID      *string
	Permalink    *string
	SignedEvent  *string
}
