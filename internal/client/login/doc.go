// Package login implements the multi-step login flow against the identity
// provider.
//
// The flow is split in three parts:
//
//   - Transition, a pure reducer (State, Event) -> (State, []Effect) that
//     encodes every step and branch of the login table;
//   - Flow, which owns the current State, executes effects (network calls,
//     key derivation, decryption, session hand-off) and feeds their results
//     back as events;
//   - Poller, the fixed-interval passkey status loop with a hard timeout.
//
// Secrets never appear in State snapshots handed to observers. The KEK is
// stashed in State only between the step that derived it and the step that
// consumes it.
package login
