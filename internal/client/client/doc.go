// Package client contains the remote side of the login flow: a stateless
// request/response client for the identity provider's public endpoints.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface): SRP
//     attribute lookup, email one-time-token request/verify, SRP session
//     create/verify, two-factor verify and passkey status polling.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) that resolves the
//     server base URL on every call, so settings changes apply immediately.
//
// # Error Handling
//
// Transport failures are *NetworkError (which matches ErrUnavailable with
// errors.Is); non-2xx responses are *ServerError carrying the status and the
// server's message. Documented sentinel statuses are not errors: a missing
// account yields (nil, nil) from GetSRPAttributes and a pending passkey
// verification yields (nil, nil) from GetPasskeyStatus. An expired passkey
// session is ErrSessionExpired.
//
// The client never retries; polling cadence belongs to the login flow.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation/timeouts.
package client
