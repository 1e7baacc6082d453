// Package common contains shared constants and helpers used across
// otpkeeper components.
package common

// ClientPackage identifies this client to the identity provider.
const ClientPackage = "io.ente.auth"
