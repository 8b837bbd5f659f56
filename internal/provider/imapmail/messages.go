package imapmail

import (
	"context"
	"slices"
	"sort"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// flagImportant is the RFC 8457 keyword some servers set.
const flagImportant imap.Flag = "$Important"

// fullBody is the body section fetched for every message, without
// setting \Seen.
var fullBody = &imap.FetchItemBodySection{Peek: true}

func fetchOptions() *imap.FetchOptions {
	return &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		InternalDate: true,
		UID:          true,
		BodySection:  []*imap.FetchItemBodySection{fullBody},
	}
}

// ListMailboxes lists selectable folders with their counts.
func (p *Provider) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	const op = "list mailboxes"
	s, err := connect(ctx, p.acct, nil)
	if err != nil {
		return nil, err
	}
	defer s.close()

	folders, err := listFolders(s.Client)
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	boxes := make([]model.Mailbox, 0, len(folders))
	for _, f := range folders {
		box := model.Mailbox{ID: f.id, Name: f.name, Type: f.typ}
		status, err := s.Status(f.name, &imap.StatusOptions{NumMessages: true, NumUnseen: true}).Wait()
		if err != nil {
			if ctx.Err() != nil {
				return nil, classify(ctx, op, err)
			}
			p.log.WithError(err).WithField("folder", f.name).Debug("folder status unavailable")
		} else {
			if status.NumMessages != nil {
				box.TotalCount = int(*status.NumMessages)
			}
			if status.NumUnseen != nil {
				box.UnreadCount = int(*status.NumUnseen)
			}
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// seqRange returns the sequence numbers covering one page of a folder
// holding total messages, newest first by position. ok is false when the
// page is empty.
func seqRange(total uint32, offset, limit int) (start, stop uint32, ok bool) {
	if offset < 0 || limit <= 0 || uint64(offset) >= uint64(total) {
		return 0, 0, false
	}
	stop = total - uint32(offset)
	if uint64(limit) >= uint64(stop) {
		return 1, stop, true
	}
	return stop - uint32(limit) + 1, stop, true
}

// ListMessages fetches one page of a folder in a single batched FETCH and
// returns it newest first. A query switches to UID SEARCH TEXT.
func (p *Provider) ListMessages(
	ctx context.Context,
	mailboxID string,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	const op = "list messages"
	opts = opts.Clamp()

	s, err := connect(ctx, p.acct, nil)
	if err != nil {
		return nil, err
	}
	defer s.close()

	name, err := newFolderResolver(s.Client).resolve(mailboxID)
	if err != nil {
		return nil, classify(ctx, op, permanentIfNotFound(op, err))
	}
	selected, err := s.Select(name, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	page := &model.EmailPage{
		Emails: []model.Email{},
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}

	var set imap.NumSet
	if opts.Query == "" {
		page.Total = int(selected.NumMessages)
		start, stop, ok := seqRange(selected.NumMessages, opts.Offset, opts.Limit)
		if !ok {
			return page, nil
		}
		var seqs imap.SeqSet
		seqs.AddRange(start, stop)
		set = seqs
		page.HasMore = start > 1
	} else {
		found, err := s.UIDSearch(&imap.SearchCriteria{Text: []string{opts.Query}}, nil).Wait()
		if err != nil {
			return nil, classify(ctx, op, err)
		}
		uids := found.AllUIDs()
		slices.Sort(uids)
		slices.Reverse(uids)
		page.Total = len(uids)
		if opts.Offset >= len(uids) {
			return page, nil
		}
		end := min(opts.Offset+opts.Limit, len(uids))
		set = imap.UIDSetNum(uids[opts.Offset:end]...)
		page.HasMore = end < len(uids)
	}

	msgs, err := s.Fetch(set, fetchOptions()).Collect()
	if err != nil {
		return nil, classify(ctx, op, err)
	}

	// Servers answer in ascending order; present newest first.
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SeqNum != msgs[j].SeqNum {
			return msgs[i].SeqNum > msgs[j].SeqNum
		}
		return msgs[i].UID > msgs[j].UID
	})

	for _, buf := range msgs {
		e := toEmail(name, mailboxID, buf)
		page.Emails = append(page.Emails, e.Email)
	}

	p.log.WithFields(log.Fields{
		"op":     op,
		"folder": name,
		"offset": opts.Offset,
		"count":  len(page.Emails),
	}).Debug("listed imap messages")
	return page, nil
}

func permanentIfNotFound(op string, err error) error {
	if provider.IsNotFound(err) {
		return permanent(op, err)
	}
	return err
}

// fetched is a normalized email plus its attachment bytes.
type fetched struct {
	model.Email
	blobs [][]byte
}

// toEmail normalizes one fetched message.
func toEmail(folderName, mailboxID string, buf *imapclient.FetchMessageBuffer) fetched {
	e := model.Email{
		ID:         EncodeID(folderName, buf.UID),
		MailboxID:  mailboxID,
		ReceivedAt: buf.InternalDate.UTC(),
		Labels:     []string{folderName},
	}
	e.ThreadID = e.ID

	if env := buf.Envelope; env != nil {
		e.Subject = env.Subject
		if len(env.From) > 0 {
			e.From = env.From[0].Addr()
			e.FromName = env.From[0].Name
		}
		for _, a := range env.To {
			e.To = append(e.To, a.Addr())
		}
		for _, a := range env.Cc {
			e.Cc = append(e.Cc, a.Addr())
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = env.Date.UTC()
		}
		if env.MessageID != "" {
			e.ThreadID = env.MessageID
		}
	}

	for _, f := range buf.Flags {
		switch f {
		case imap.FlagSeen:
			e.IsRead = true
		case imap.FlagFlagged:
			e.IsStarred = true
		case flagImportant:
			e.IsImportant = true
		}
	}

	var blobs [][]byte
	if raw := buf.FindBodySection(fullBody); raw != nil {
		parsed := parseMIMEBody(raw)
		e.Body, e.IsHTML = parsed.body()
		e.Attachments = parsed.attachments
		blobs = parsed.blobs
	}
	e.Preview = provider.Preview(e.Body, e.IsHTML)
	return fetched{Email: e, blobs: blobs}
}

// fetchOne decodes a message ID, selects its folder and fetches it by UID.
func (p *Provider) fetchOne(ctx context.Context, op, id string) (*fetched, error) {
	folderName, uid, err := DecodeID(id)
	if err != nil {
		return nil, err
	}

	s, err := connect(ctx, p.acct, nil)
	if err != nil {
		return nil, err
	}
	defer s.close()

	if _, err := s.Select(folderName, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, classify(ctx, op, err)
	}
	msgs, err := s.Fetch(imap.UIDSetNum(uid), fetchOptions()).Collect()
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	if len(msgs) == 0 {
		return nil, notFound(op, "message "+strconv.FormatUint(uint64(uid), 10)+" in "+folderName)
	}

	mailboxID := newFolderResolver(s.Client).mailboxID(folderName)
	f := toEmail(folderName, mailboxID, msgs[0])
	return &f, nil
}

// GetMessage returns one message with its body.
func (p *Provider) GetMessage(ctx context.Context, id string) (*model.Email, error) {
	f, err := p.fetchOne(ctx, "get message", id)
	if err != nil {
		return nil, err
	}
	return &f.Email, nil
}

// GetAttachment returns the bytes of the attachment at the given ordinal.
func (p *Provider) GetAttachment(
	ctx context.Context,
	messageID string,
	attachmentID string,
) (*model.AttachmentData, error) {
	const op = "get attachment"
	idx, err := strconv.Atoi(attachmentID)
	if err != nil || idx < 0 {
		return nil, &provider.EncodingError{ID: attachmentID, Err: strconv.ErrSyntax}
	}

	f, err := p.fetchOne(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if idx >= len(f.Attachments) {
		return nil, notFound(op, "attachment "+attachmentID)
	}
	return &model.AttachmentData{
		Attachment: f.Attachments[idx],
		Data:       f.blobs[idx],
	}, nil
}
