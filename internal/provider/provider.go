package provider

import (
	"context"

	"github.com/nhle/mailsync/internal/model"
)

// Paging limits applied to every listing.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Flag is a mutable per-message boolean.
type Flag string

const (
	FlagRead    Flag = "read"
	FlagStarred Flag = "starred"
)

// ListOptions controls pagination and filtering for message listings.
type ListOptions struct {
	Limit  int
	Offset int

	// Query is a free-text search; its syntax is provider-specific.
	Query string
}

// Clamp applies the default and maximum limit and floors the offset.
func (o ListOptions) Clamp() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// Provider is the contract every mail backend implements. A Provider
// value is bound to one user's credential when it is constructed; all
// methods return normalized model shapes, never backend wire types.
type Provider interface {
	// Kind returns the backend kind.
	Kind() model.ProviderKind

	// ListMailboxes returns the user's folders or labels.
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)

	// ListMessages returns one page of a mailbox, newest first.
	ListMessages(
		ctx context.Context,
		mailboxID string,
		opts ListOptions,
	) (*model.EmailPage, error)

	// GetMessage returns a single message with its full body.
	GetMessage(ctx context.Context, id string) (*model.Email, error)

	// GetAttachment returns the bytes of one attachment of a message.
	GetAttachment(
		ctx context.Context,
		messageID string,
		attachmentID string,
	) (*model.AttachmentData, error)

	// Send submits a new message.
	Send(ctx context.Context, msg model.OutgoingMessage) error

	// SetFlag turns a read or starred flag on or off.
	SetFlag(ctx context.Context, id string, flag Flag, on bool) error

	// MoveToTrash moves a message to the trash.
	MoveToTrash(ctx context.Context, id string) error

	// Archive removes a message from the inbox without deleting it.
	Archive(ctx context.Context, id string) error

	// StartWatch arms push notifications for new mail.
	StartWatch(ctx context.Context, topic string) (*model.WatchState, error)

	// StopWatch disarms push notifications.
	StopWatch(ctx context.Context) error

	// ValidateCredential verifies the bound credential and returns the
	// account's email address.
	ValidateCredential(ctx context.Context) (string, error)
}
