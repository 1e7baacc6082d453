package session

import (
	"sync"

	"github.com/dmitrijs2005/otpkeeper/internal/common"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
)

// keyStore keeps the master key in process memory only, sealed under a
// random key generated at startup. Nothing here is ever persisted.
type keyStore struct {
	mu      sync.Mutex
	wrapKey []byte
	sealed  string
	nonce   string
}

func newKeyStore() *keyStore {
	return &keyStore{wrapKey: cryptox.GenerateKey()}
}

func (k *keyStore) put(key []byte) error {
	sealed, nonce, err := cryptox.EncryptBox(key, k.wrapKey)
	if err != nil {
		return err
	}
	k.mu.Lock()
	k.sealed, k.nonce = sealed, nonce
	k.mu.Unlock()
	return nil
}

// get returns a fresh copy of the key, or nil if none is held.
func (k *keyStore) get() ([]byte, error) {
	k.mu.Lock()
	sealed, nonce := k.sealed, k.nonce
	k.mu.Unlock()

	if sealed == "" {
		return nil, nil
	}
	return cryptox.DecryptBox(sealed, nonce, k.wrapKey)
}

func (k *keyStore) has() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sealed != ""
}

func (k *keyStore) clear() {
	k.mu.Lock()
	k.sealed, k.nonce = "", ""
	k.mu.Unlock()
}

// rotate drops any held key and replaces the wrapping key.
func (k *keyStore) rotate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	common.WipeByteArray(k.wrapKey)
	k.wrapKey = cryptox.GenerateKey()
	k.sealed, k.nonce = "", ""
}
