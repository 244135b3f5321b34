// Package cli implements schedctl, the operator command line for the
// scheduler.
//
// Commands that only touch storage run locally against the configured
// database:
//   - migrate: apply the embedded schema migrations
//   - accounts add: register a publishing identity
//   - keys import: store an account's private key in the OS keyring or,
//     with --db, sealed in the database
//   - keys gen: print a fresh keypair
//
// Commands that need the running pipeline go through the daemon's control
// API (see the client package):
//   - schedule: create a pending post
//   - publish-now: publish a post immediately
//   - sign: request a signing pass
//
// The root command is built with NewRootCommand; see cmd/schedctl.
package cli
