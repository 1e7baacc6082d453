package cryptox

import (
	"encoding/base64"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/common"
)

const (
	loginSubKeyLen     = 32
	loginSubKeyID      = 1
	loginSubKeyContext = "loginctx"
	loginKeySize       = 16
)

// DeriveLoginKey derives the SRP password from the KEK. Only this value (or
// proofs computed from it) ever reaches the server; the KEK itself never does.
func DeriveLoginKey(kek []byte) ([]byte, error) {
	sub, err := DeriveSubkey(kek, loginSubKeyLen, loginSubKeyID, loginSubKeyContext)
	if err != nil {
		return nil, err
	}
	key := make([]byte, loginKeySize)
	copy(key, sub[:loginKeySize])
	common.WipeByteArray(sub)
	return key, nil
}

// DeriveKEK derives the key-encryption-key for attrs from password.
func DeriveKEK(password []byte, attrs *models.KeyAttributes) ([]byte, error) {
	return DeriveKey(password, attrs.KEKSalt, attrs.OpsLimit, attrs.MemLimit)
}

// DecryptMasterKey unwraps the account master key with kek.
func DecryptMasterKey(attrs *models.KeyAttributes, kek []byte) ([]byte, error) {
	return DecryptBox(attrs.EncryptedKey, attrs.KeyDecryptionNonce, kek)
}

// DecryptToken unwraps the account private key with masterKey and uses it to
// open the sealed bearer token. The token is returned URL-safe base64 encoded,
// which is the form the server expects in the auth header.
func DecryptToken(encryptedToken string, attrs *models.KeyAttributes, masterKey []byte) (string, error) {
	secretKey, err := DecryptBox(attrs.EncryptedSecretKey, attrs.SecretKeyDecryptionNonce, masterKey)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(secretKey)

	raw, err := OpenSealedBox(encryptedToken, attrs.PublicKey, secretKey)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Unwrapper is the default implementation of the key-unwrap operations the
// login flow depends on. It holds no state.
type Unwrapper struct{}

func (Unwrapper) DeriveKey(password []byte, salt string, opsLimit, memLimit int) ([]byte, error) {
	return DeriveKey(password, salt, opsLimit, memLimit)
}

func (Unwrapper) DecryptMasterKey(attrs *models.KeyAttributes, kek []byte) ([]byte, error) {
	return DecryptMasterKey(attrs, kek)
}

func (Unwrapper) DecryptToken(encryptedToken string, attrs *models.KeyAttributes, masterKey []byte) (string, error) {
	return DecryptToken(encryptedToken, attrs, masterKey)
}

// GenerateKeyAttributes creates a fresh master key and key pair for a new
// account and wraps them under a KEK derived from password. It returns the
// attributes together with the plaintext master key.
func GenerateKeyAttributes(password []byte, opsLimit, memLimit int) (*models.KeyAttributes, []byte, error) {
	attrs := &models.KeyAttributes{
		KEKSalt:  GenerateSalt(),
		OpsLimit: opsLimit,
		MemLimit: memLimit,
	}

	kek, err := DeriveKEK(password, attrs)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(kek)

	masterKey := GenerateKey()
	if attrs.EncryptedKey, attrs.KeyDecryptionNonce, err = EncryptBox(masterKey, kek); err != nil {
		return nil, nil, err
	}

	publicKey, secretKey, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(secretKey)

	attrs.PublicKey = publicKey
	if attrs.EncryptedSecretKey, attrs.SecretKeyDecryptionNonce, err = EncryptBox(secretKey, masterKey); err != nil {
		return nil, nil, err
	}
	return attrs, masterKey, nil
}
