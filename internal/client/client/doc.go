// Package client talks to the scheduler daemon's control HTTP API.
//
// # Overview
//
// ControlClient covers the operator actions that must run inside the daemon
// so that they share its publisher, relay connections and signing queue:
// scheduling a post, publishing one immediately and requesting a signing
// pass. Requests carry an HS256 bearer token when one is configured.
//
// # Error Handling
//
// Transport failures are reported as ErrUnavailable and rejected tokens as
// ErrUnauthorized; both can be matched with errors.Is. Any other non-2xx
// answer is an *APIError carrying the status code and the server's message.
package client
