package mailsync

import (
	"context"
	"errors"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// ErrNoRecipients is returned when sending a message addressed to nobody.
var ErrNoRecipients = errors.New("message has no recipients")

// run binds the user's provider and calls fn under the provider deadline.
func (s *Service) run(
	ctx context.Context,
	userID, op string,
	fn func(ctx context.Context, b *binding) error,
) error {
	b, err := s.bind(ctx, userID)
	if err != nil {
		return err
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := fn(ctx, b); err != nil {
		s.logFailure(b, op, err)
		return err
	}
	return nil
}

// ListMailboxes returns the user's folders or labels with counts.
func (s *Service) ListMailboxes(ctx context.Context, userID string) ([]model.Mailbox, error) {
	var boxes []model.Mailbox
	err := s.run(ctx, userID, "list mailboxes", func(ctx context.Context, b *binding) error {
		var err error
		boxes, err = b.ListMailboxes(ctx)
		return err
	})
	return boxes, err
}

// ListEmails returns one page of a mailbox, newest first, with each
// email's Kanban column merged in.
func (s *Service) ListEmails(
	ctx context.Context,
	userID, mailboxID string,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	if mailboxID == "" {
		mailboxID = model.MailboxInbox
	}
	var page *model.EmailPage
	err := s.run(ctx, userID, "list emails", func(ctx context.Context, b *binding) error {
		var err error
		page, err = b.ListMessages(ctx, mailboxID, opts.Clamp())
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range page.Emails {
		s.deps.Overlay.Apply(userID, &page.Emails[i])
	}
	return page, nil
}

// GetEmail returns one email with its full body. Inline images in HTML
// bodies are pointed at the attachment download route.
func (s *Service) GetEmail(ctx context.Context, userID, emailID string) (*model.Email, error) {
	var email *model.Email
	err := s.run(ctx, userID, "get email", func(ctx context.Context, b *binding) error {
		var err error
		email, err = b.GetMessage(ctx, emailID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.present(userID, email)
	return email, nil
}

func (s *Service) present(userID string, e *model.Email) {
	if e.IsHTML {
		e.Body = provider.RewriteInlineImages(e.Body, e.ID, e.Attachments, s.cfg.PublicBaseURL)
	}
	s.deps.Overlay.Apply(userID, e)
}

// GetAttachment returns the bytes of one attachment.
func (s *Service) GetAttachment(
	ctx context.Context,
	userID, emailID, attachmentID string,
) (*model.AttachmentData, error) {
	var data *model.AttachmentData
	err := s.run(ctx, userID, "get attachment", func(ctx context.Context, b *binding) error {
		var err error
		data, err = b.GetAttachment(ctx, emailID, attachmentID)
		return err
	})
	return data, err
}

// Send submits a message from the user's mailbox.
func (s *Service) Send(ctx context.Context, userID string, msg model.OutgoingMessage) error {
	return s.run(ctx, userID, "send", func(ctx context.Context, b *binding) error {
		if len(msg.Recipients()) == 0 {
			return &provider.PermanentError{Provider: b.Kind(), Op: "send", Err: ErrNoRecipients}
		}
		if msg.From == "" && b.cred != nil {
			msg.From = b.cred.Email
		}
		return b.Send(ctx, msg)
	})
}

// MarkRead sets or clears the read flag.
func (s *Service) MarkRead(ctx context.Context, userID, emailID string, read bool) error {
	return s.run(ctx, userID, "mark read", func(ctx context.Context, b *binding) error {
		return b.SetFlag(ctx, emailID, provider.FlagRead, read)
	})
}

// SetStarred sets or clears the starred flag.
func (s *Service) SetStarred(ctx context.Context, userID, emailID string, starred bool) error {
	return s.run(ctx, userID, "set starred", func(ctx context.Context, b *binding) error {
		return b.SetFlag(ctx, emailID, provider.FlagStarred, starred)
	})
}

// ToggleStar flips the starred flag and returns the new value.
func (s *Service) ToggleStar(ctx context.Context, userID, emailID string) (bool, error) {
	var starred bool
	err := s.run(ctx, userID, "toggle star", func(ctx context.Context, b *binding) error {
		e, err := b.GetMessage(ctx, emailID)
		if err != nil {
			return err
		}
		starred = !e.IsStarred
		return b.SetFlag(ctx, emailID, provider.FlagStarred, starred)
	})
	return starred, err
}

// Trash moves an email to the trash.
func (s *Service) Trash(ctx context.Context, userID, emailID string) error {
	return s.run(ctx, userID, "trash", func(ctx context.Context, b *binding) error {
		return b.MoveToTrash(ctx, emailID)
	})
}

// Archive removes an email from the inbox.
func (s *Service) Archive(ctx context.Context, userID, emailID string) error {
	return s.run(ctx, userID, "archive", func(ctx context.Context, b *binding) error {
		return b.Archive(ctx, emailID)
	})
}
