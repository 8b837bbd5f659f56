package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/mailsync/internal/model"
)

// masterKeyName is the keyring entry holding the password encryption key.
const masterKeyName = "mailsync-master-key"

// OpenKeyring returns a configured keyring instance.
func OpenKeyring(cfg model.KeyringConfig) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: cfg.Service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.Service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// MasterKey loads the 32-byte encryption key from the keyring, creating
// and storing a random one on first use.
func MasterKey(ring keyring.Keyring) ([]byte, error) {
	item, err := ring.Get(masterKeyName)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(string(item.Data))
		if decErr != nil || len(key) != keySize {
			return nil, fmt.Errorf("master key in keyring is corrupt")
		}
		return key, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("getting master key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}

	err = ring.Set(keyring.Item{
		Key:         masterKeyName,
		Data:        []byte(base64.StdEncoding.EncodeToString(key)),
		Label:       "mailsync password encryption key",
		Description: "Encrypts stored IMAP passwords",
	})
	if err != nil {
		return nil, fmt.Errorf("storing master key: %w", err)
	}

	return key, nil
}
