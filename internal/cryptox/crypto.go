// Package cryptox implements the cryptographic primitives of the login flow:
// password key derivation, secret-box open/seal, anonymous sealed boxes and
// context-bound subkey derivation.
//
// The primitives are byte-compatible with libsodium (crypto_pwhash argon2id,
// crypto_secretbox_easy, crypto_box_seal and crypto_kdf_derive_from_key), which
// is what the identity provider uses on its side. Server-supplied values are
// accepted as standard base64 strings; decoding is kept inside this package.
package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/minio/blake2b-simd"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
	SaltSize  = 16

	// MinMemLimit and MinOpsLimit are the lowest argon2id costs libsodium accepts.
	MinMemLimit = 8192
	MinOpsLimit = 1

	subkeyMinSize  = 16
	subkeyMaxSize  = 64
	kdfContextSize = 8
)

var (
	// ErrDerivation is returned when key derivation parameters are invalid.
	ErrDerivation = errors.New("key derivation failed")

	// ErrDecryption is returned for every authenticated-decryption failure.
	// Malformed input and a wrong key are deliberately indistinguishable.
	ErrDecryption = errors.New("decryption failed")
)

// DeriveKey derives a 32-byte key-encryption-key from password using argon2id.
//
// Parameters:
//   - password: the user's password; it is not retained.
//   - salt: base64-encoded 16-byte salt issued by the server.
//   - opsLimit: argon2 time cost (iterations).
//   - memLimit: argon2 memory cost in bytes.
//
// The call is memory-hard and may take seconds with production parameters.
// It returns ErrDerivation for a malformed salt or out-of-range costs.
func DeriveKey(password []byte, salt string, opsLimit, memLimit int) ([]byte, error) {
	s, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(s) != SaltSize {
		return nil, fmt.Errorf("%w: invalid salt", ErrDerivation)
	}
	if opsLimit < MinOpsLimit || memLimit < MinMemLimit {
		return nil, fmt.Errorf("%w: cost parameters out of range (ops=%d mem=%d)", ErrDerivation, opsLimit, memLimit)
	}
	return argon2.IDKey(password, s, uint32(opsLimit), uint32(memLimit/1024), 1, KeySize), nil
}

// DeriveSubkey derives a length-byte subkey of key bound to id and an 8-byte
// context string, using keyed BLAKE2b with salt and personalisation.
func DeriveSubkey(key []byte, length int, id uint64, context string) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", ErrDerivation, KeySize)
	}
	if length < subkeyMinSize || length > subkeyMaxSize {
		return nil, fmt.Errorf("%w: subkey length %d out of range", ErrDerivation, length)
	}
	if len(context) != kdfContextSize {
		return nil, fmt.Errorf("%w: context must be %d bytes", ErrDerivation, kdfContextSize)
	}

	salt := make([]byte, 16)
	binary.LittleEndian.PutUint64(salt, id)
	person := make([]byte, 16)
	copy(person, context)

	h, err := blake2b.New(&blake2b.Config{
		Size:   uint8(length),
		Key:    key,
		Salt:   salt,
		Person: person,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return h.Sum(nil), nil
}

// DecryptBox opens a secret box (XSalsa20-Poly1305).
//
// Parameters:
//   - ciphertext: base64 box including the Poly1305 tag.
//   - nonce: base64 24-byte nonce.
//   - key: 32-byte symmetric key.
//
// Any failure is reported as ErrDecryption.
func DecryptBox(ciphertext, nonce string, key []byte) ([]byte, error) {
	c, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecryption
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(n) != NonceSize || len(key) != KeySize {
		return nil, ErrDecryption
	}

	var nb [NonceSize]byte
	var kb [KeySize]byte
	copy(nb[:], n)
	copy(kb[:], key)
	defer common.WipeByteArray(kb[:])

	plain, ok := secretbox.Open(nil, c, &nb, &kb)
	if !ok {
		return nil, ErrDecryption
	}
	return plain, nil
}

// EncryptBox seals plaintext under key with a fresh random nonce and returns
// both as base64.
func EncryptBox(plaintext, key []byte) (ciphertext, nonce string, err error) {
	if len(key) != KeySize {
		return "", "", fmt.Errorf("encrypt box: key must be %d bytes", KeySize)
	}

	var nb [NonceSize]byte
	if _, err := rand.Read(nb[:]); err != nil {
		return "", "", err
	}
	var kb [KeySize]byte
	copy(kb[:], key)
	defer common.WipeByteArray(kb[:])

	sealed := secretbox.Seal(nil, plaintext, &nb, &kb)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nb[:]), nil
}

// OpenSealedBox decrypts an anonymous-sender sealed box addressed to the
// key pair (publicKey, privateKey). publicKey and sealed are base64; a key
// pair mismatch yields ErrDecryption.
func OpenSealedBox(sealed, publicKey string, privateKey []byte) ([]byte, error) {
	c, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrDecryption
	}
	pk, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pk) != KeySize || len(privateKey) != KeySize {
		return nil, ErrDecryption
	}

	var pub, priv [KeySize]byte
	copy(pub[:], pk)
	copy(priv[:], privateKey)
	defer common.WipeByteArray(priv[:])

	plain, ok := box.OpenAnonymous(nil, c, &pub, &priv)
	if !ok {
		return nil, ErrDecryption
	}
	return plain, nil
}

// SealBox encrypts plaintext to a base64 public key as an anonymous sealed box.
func SealBox(plaintext []byte, publicKey string) (string, error) {
	pk, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pk) != KeySize {
		return "", errors.New("seal box: invalid public key")
	}
	var pub [KeySize]byte
	copy(pub[:], pk)

	sealed, err := box.SealAnonymous(nil, plaintext, &pub, rand.Reader)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// GenerateKeyPair returns a fresh X25519 key pair: the public half as base64,
// the private half as raw bytes.
func GenerateKeyPair() (publicKey string, privateKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	return base64.StdEncoding.EncodeToString(pub[:]), priv[:], nil
}

// GenerateKey returns a random 32-byte symmetric key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// GenerateSalt returns a random base64-encoded salt suitable for DeriveKey.
func GenerateSalt() string {
	return base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(SaltSize))
}

