// Package credential holds the contract for long-lived mail secrets and
// the helpers that protect them at rest.
package credential

import (
	"context"
	"errors"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNoCredential is returned when a user has not connected a mailbox.
var ErrNoCredential = errors.New("no credential stored")

// Vault reads and writes user credentials. It owns no business logic.
type Vault interface {
	// FindByUser returns the credential for a user or ErrNoCredential.
	FindByUser(ctx context.Context, userID string) (*model.Credential, error)

	// FindByAddress resolves a mailbox address to its credential, or
	// ErrNoCredential.
	FindByAddress(ctx context.Context, address string) (*model.Credential, error)

	// Update stores a credential, replacing any previous one.
	Update(ctx context.Context, cred model.Credential) error

	// Clear removes a user's credential.
	Clear(ctx context.Context, userID string) error
}

// Decrypter opens encrypted passwords.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}
