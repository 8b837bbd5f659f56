package imapmail

import (
	"context"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// SetFlag stores \Seen or \Flagged on a message.
func (p *Provider) SetFlag(ctx context.Context, id string, flag provider.Flag, on bool) error {
	const op = "set flag"
	var f imap.Flag
	switch flag {
	case provider.FlagRead:
		f = imap.FlagSeen
	case provider.FlagStarred:
		f = imap.FlagFlagged
	default:
		return permanent(op, errUnknownFlag(flag))
	}

	storeOp := imap.StoreFlagsAdd
	if !on {
		storeOp = imap.StoreFlagsDel
	}

	return p.withMessage(ctx, op, id, func(s *session, _ *folderResolver, uid imap.UID) error {
		return s.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
			Op:     storeOp,
			Silent: true,
			Flags:  []imap.Flag{f},
		}, nil).Close()
	})
}

// MoveToTrash moves a message into the server's trash folder.
func (p *Provider) MoveToTrash(ctx context.Context, id string) error {
	return p.moveTo(ctx, "trash", id, model.MailboxTrash)
}

// Archive moves a message into the archive folder. Servers without one
// get the message flagged \Deleted instead.
func (p *Provider) Archive(ctx context.Context, id string) error {
	return p.moveTo(ctx, "archive", id, model.MailboxArchive)
}

func (p *Provider) moveTo(ctx context.Context, op, id, mailboxID string) error {
	return p.withMessage(ctx, op, id, func(s *session, r *folderResolver, uid imap.UID) error {
		target, err := r.resolve(mailboxID)
		if provider.IsNotFound(err) {
			p.log.WithField("op", op).Info("no target folder, flagging message deleted")
			return s.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
				Op:     imap.StoreFlagsAdd,
				Silent: true,
				Flags:  []imap.Flag{imap.FlagDeleted},
			}, nil).Close()
		}
		if err != nil {
			return err
		}
		_, err = s.Move(imap.UIDSetNum(uid), target).Wait()
		return err
	})
}

// withMessage decodes id, selects its folder read-write and runs fn with
// a folder resolver scoped to this operation.
func (p *Provider) withMessage(
	ctx context.Context,
	op, id string,
	fn func(s *session, r *folderResolver, uid imap.UID) error,
) error {
	folderName, uid, err := DecodeID(id)
	if err != nil {
		return err
	}

	s, err := connect(ctx, p.acct, nil)
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := s.Select(folderName, nil).Wait(); err != nil {
		return classify(ctx, op, err)
	}
	if err := fn(s, newFolderResolver(s.Client), uid); err != nil {
		return classify(ctx, op, err)
	}
	return nil
}
