// Package common defines sentinel errors shared by the storage, signing and
// delivery layers. Callers should use errors.Is to match these values; the
// text of each error is what ends up in a failed post's error message.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPayloadImmutable  = errors.New("signed payload already set")

	// Configuration errors: fatal for the affected posts, never retried.
	ErrAccountNotFound    = errors.New("account not found")
	ErrNoPrivateKey       = errors.New("no private key found")
	ErrKeyMismatch        = errors.New("private key does not match account public key")
	ErrMissingQueueTarget = errors.New("nostrmq target is not configured")
	ErrMissingEndpoint    = errors.New("api endpoint is not configured")
	ErrInvalidChannel     = errors.New("invalid channel")
	ErrNoteNotFound       = errors.New("note not found")
	ErrInvalidArgument    = errors.New("invalid argument")

	// Delivery errors.
	ErrNoRelayAccepted  = errors.New("no relay accepted the event")
	ErrAlreadyPublished = errors.New("post already published")

	// Signing errors.
	ErrMiningFailed = errors.New("proof-of-work mining failed")
	ErrInvalidEvent = errors.New("invalid signed event")
	ErrPoolClosed   = errors.New("mining pool closed")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
