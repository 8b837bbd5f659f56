package stub

import (
	"context"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// Provider serves one user's stub mail through the provider contract.
type Provider struct {
	store   *Store
	userID  string
	address string
}

// NewProvider binds the store to a user.
func NewProvider(store *Store, userID, address string) *Provider {
	if address == "" {
		address = "demo@mailsync.local"
	}
	return &Provider{store: store, userID: userID, address: address}
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Kind() model.ProviderKind { return model.ProviderStub }

func (p *Provider) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	return p.store.Mailboxes(p.userID, p.address), nil
}

func (p *Provider) ListMessages(
	ctx context.Context,
	mailboxID string,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	return p.store.List(p.userID, p.address, mailboxID, opts), nil
}

func (p *Provider) GetMessage(ctx context.Context, id string) (*model.Email, error) {
	e, err := p.store.Get(p.userID, p.address, id)
	if err != nil {
		return nil, p.permanent("get message", err)
	}
	return e, nil
}

func (p *Provider) GetAttachment(
	ctx context.Context,
	messageID string,
	attachmentID string,
) (*model.AttachmentData, error) {
	data, err := p.store.Attachment(p.userID, p.address, messageID, attachmentID)
	if err != nil {
		return nil, p.permanent("get attachment", err)
	}
	return data, nil
}

func (p *Provider) Send(ctx context.Context, msg model.OutgoingMessage) error {
	if len(msg.Recipients()) == 0 {
		return p.permanent("send", fmt.Errorf("no recipients"))
	}
	p.store.AppendSent(p.userID, p.address, msg)
	return nil
}

func (p *Provider) SetFlag(ctx context.Context, id string, flag provider.Flag, on bool) error {
	err := p.store.Update(p.userID, p.address, id, func(e *model.Email) {
		switch flag {
		case provider.FlagRead:
			e.IsRead = on
		case provider.FlagStarred:
			e.IsStarred = on
		}
	})
	if err != nil {
		return p.permanent("set flag", err)
	}
	return nil
}

func (p *Provider) MoveToTrash(ctx context.Context, id string) error {
	return p.move("trash", id, model.MailboxTrash)
}

func (p *Provider) Archive(ctx context.Context, id string) error {
	return p.move("archive", id, model.MailboxArchive)
}

func (p *Provider) move(op, id, mailboxID string) error {
	err := p.store.Update(p.userID, p.address, id, func(e *model.Email) {
		e.MailboxID = mailboxID
	})
	if err != nil {
		return p.permanent(op, err)
	}
	return nil
}

// StartWatch is a no-op; stub mail never changes on its own.
func (p *Provider) StartWatch(ctx context.Context, topic string) (*model.WatchState, error) {
	return &model.WatchState{}, nil
}

func (p *Provider) StopWatch(ctx context.Context) error { return nil }

func (p *Provider) ValidateCredential(ctx context.Context) (string, error) {
	return p.address, nil
}

func (p *Provider) permanent(op string, err error) error {
	return &provider.PermanentError{Provider: model.ProviderStub, Op: op, Err: err}
}
