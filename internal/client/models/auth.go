// Package models defines the wire-level data shapes exchanged with the
// identity provider and carried through the login flow.
//
// All byte strings are standard base64 as delivered by the server. They are
// opaque to every package except cryptox.
package models

// SRPAttributes are the per-account parameters returned before any secret
// material is produced. They must be fetched fresh for each login attempt.
type SRPAttributes struct {
	SRPUserID         string `json:"srpUserID"`
	SRPSalt           string `json:"srpSalt"`
	MemLimit          int    `json:"memLimit"`
	OpsLimit          int    `json:"opsLimit"`
	KEKSalt           string `json:"kekSalt"`
	IsEmailMFAEnabled bool   `json:"isEmailMFAEnabled"`
}

// KeyAttributes wrap the account's long-term secrets.
//
// EncryptedKey is the master key sealed under the KEK; EncryptedSecretKey is
// the private half of the account key pair sealed under the master key.
type KeyAttributes struct {
	KEKSalt                  string `json:"kekSalt"`
	EncryptedKey             string `json:"encryptedKey"`
	KeyDecryptionNonce       string `json:"keyDecryptionNonce"`
	PublicKey                string `json:"publicKey"`
	EncryptedSecretKey       string `json:"encryptedSecretKey"`
	SecretKeyDecryptionNonce string `json:"secretKeyDecryptionNonce"`
	MemLimit                 int    `json:"memLimit"`
	OpsLimit                 int    `json:"opsLimit"`
}

// SRPSession is the server half of the opened challenge-response session.
type SRPSession struct {
	SessionID string `json:"sessionID"`
	SRPB      string `json:"srpB"`
}

// AuthResponse is the common shape of every verification endpoint
// (email OTT, SRP verify-session, two-factor, passkey status).
type AuthResponse struct {
	ID                 int64          `json:"id"`
	KeyAttributes      *KeyAttributes `json:"keyAttributes,omitempty"`
	EncryptedToken     string         `json:"encryptedToken,omitempty"`
	Token              string         `json:"token,omitempty"`
	TwoFactorSessionID string         `json:"twoFactorSessionID,omitempty"`
	PasskeySessionID   string         `json:"passkeySessionID,omitempty"`
	SRPM2              string         `json:"srpM2,omitempty"`
}

// SecondFactorKind tags which second factors the server requires.
type SecondFactorKind int

const (
	NoSecondFactor SecondFactorKind = iota
	TwoFactorOnly
	PasskeyOnly
	BothAvailable
)

func (k SecondFactorKind) String() string {
	switch k {
	case TwoFactorOnly:
		return "two-factor"
	case PasskeyOnly:
		return "passkey"
	case BothAvailable:
		return "two-factor+passkey"
	default:
		return "none"
	}
}

// SecondFactor is the second-factor requirement of a verification response,
// computed once at the client boundary.
type SecondFactor struct {
	Kind               SecondFactorKind
	TwoFactorSessionID string
	PasskeySessionID   string
}

// SecondFactor classifies the optional session identifiers of r.
func (r *AuthResponse) SecondFactor() SecondFactor {
	sf := SecondFactor{TwoFactorSessionID: r.TwoFactorSessionID, PasskeySessionID: r.PasskeySessionID}
	switch {
	case r.PasskeySessionID != "" && r.TwoFactorSessionID != "":
		sf.Kind = BothAvailable
	case r.PasskeySessionID != "":
		sf.Kind = PasskeyOnly
	case r.TwoFactorSessionID != "":
		sf.Kind = TwoFactorOnly
	default:
		sf.Kind = NoSecondFactor
	}
	return sf
}

// HasEncryptedKeys reports whether r carries everything needed to unwrap the
// master key and the bearer token once a KEK is available.
func (r *AuthResponse) HasEncryptedKeys() bool {
	return r.KeyAttributes != nil && r.EncryptedToken != ""
}
