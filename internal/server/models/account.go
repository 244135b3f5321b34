package models

import "time"

// Account is a publishing identity.
type Account struct {
	ID     string
	Name   string
	PubKey string

	Channel       Channel
	APIEndpoint   string
	NostrMQTarget string
	Relays        []string

	IsActive bool

	// KeyringRef is the keyring user name holding the private key; empty
	// means the account id is used.
	KeyringRef string
	// SealedKey is the private key sealed with the operator passphrase.
	SealedKey string
	// LegacyPrivateKey is a plaintext key kept only until it is migrated.
	LegacyPrivateKey string

	CreatedAt time.Time
}
