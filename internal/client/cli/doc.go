// Package cli provides the interactive otpkeeper command-line client.
//
// It wires configuration, durable storage, the identity provider client, the
// login state machine and the messaging router, then runs a REPL. Login is
// driven step by step: the App prompts for whatever the current step needs
// (email, password, one-time code, second factor) and dispatches the answer
// to the login flow.
//
// Commands:
//   - login, logout
//   - status, lock, unlock
//   - settings [server|accounts <url>]
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
