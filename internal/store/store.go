package store

import (
	"context"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
)

// Store defines the persistence interface for user credentials and the
// durable part of the workflow overlay.
type Store interface {
	credential.Vault

	// SaveWorkflowStatus inserts or replaces a workflow entry.
	SaveWorkflowStatus(ctx context.Context, st model.WorkflowStatus) error

	// DeleteWorkflowStatus removes a workflow entry.
	DeleteWorkflowStatus(ctx context.Context, userID, emailID string) error

	// LoadWorkflowStatuses returns every stored workflow entry.
	LoadWorkflowStatuses(ctx context.Context) ([]model.WorkflowStatus, error)

	// UserIDsByKind lists users whose credential is one of kinds.
	UserIDsByKind(ctx context.Context, kinds ...model.ProviderKind) ([]string, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
