package gmail

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

const (
	labelUnread    = "UNREAD"
	labelStarred   = "STARRED"
	labelImportant = "IMPORTANT"
)

// ListMessages emulates offset paging over Gmail's cursor paging: it
// walks continuation tokens until offset messages have been skipped and
// returns the next page, hydrated in backend order.
func (p *Provider) ListMessages(
	ctx context.Context,
	mailboxID string,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	const op = "list messages"
	opts = opts.Clamp()

	list := func(pageToken string, max int64) (*gmailapi.ListMessagesResponse, error) {
		if err := p.wait(ctx, op, quotaUnitsMessagesList); err != nil {
			return nil, err
		}
		call := p.svc.Users.Messages.List(me).Context(ctx).MaxResults(max)
		if mailboxID != "" {
			call = call.LabelIds(mailboxID)
		}
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify(op, err)
		}
		return resp, nil
	}

	page := &model.EmailPage{
		Emails: []model.Email{},
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}

	var token string
	for skipped := 0; skipped < opts.Offset; {
		resp, err := list(token, int64(min(opts.Offset-skipped, skipPageSize)))
		if err != nil {
			return nil, err
		}
		skipped += len(resp.Messages)
		page.Total = int(resp.ResultSizeEstimate)
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			return page, nil
		}
		token = resp.NextPageToken
	}

	resp, err := list(token, int64(opts.Limit))
	if err != nil {
		return nil, err
	}
	page.Total = int(resp.ResultSizeEstimate)
	page.HasMore = resp.NextPageToken != ""

	emails, err := p.hydrate(ctx, resp.Messages)
	if err != nil {
		return nil, err
	}
	page.Emails = emails

	p.log.WithFields(log.Fields{
		"op":      op,
		"mailbox": mailboxID,
		"offset":  opts.Offset,
		"count":   len(emails),
	}).Debug("listed gmail messages")
	return page, nil
}

// hydrate fetches full messages in parallel and keeps the input order.
func (p *Provider) hydrate(ctx context.Context, refs []*gmailapi.Message) ([]model.Email, error) {
	out := make([]model.Email, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			msg, err := p.fetch(gctx, ref.Id)
			if err != nil {
				return err
			}
			e, err := normalize(msg)
			if err != nil {
				return err
			}
			out[i] = *e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fetch loads one message in full format.
func (p *Provider) fetch(ctx context.Context, id string) (*gmailapi.Message, error) {
	const op = "get message"
	if err := checkID(id); err != nil {
		return nil, err
	}
	if err := p.wait(ctx, op, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	msg, err := p.svc.Users.Messages.Get(me, id).Context(ctx).Format("full").Do()
	if err != nil {
		return nil, classify(op, err)
	}
	return msg, nil
}

// GetMessage returns one message with its body.
func (p *Provider) GetMessage(ctx context.Context, id string) (*model.Email, error) {
	msg, err := p.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalize(msg)
}

// GetAttachment resolves the attachment part again and loads its bytes.
func (p *Provider) GetAttachment(
	ctx context.Context,
	messageID string,
	attachmentID string,
) (*model.AttachmentData, error) {
	const op = "get attachment"
	if err := checkID(attachmentID); err != nil {
		return nil, err
	}
	msg, err := p.fetch(ctx, messageID)
	if err != nil {
		return nil, err
	}
	root, err := decodePart(msg.Payload)
	if err != nil {
		return nil, &provider.PermanentError{Provider: model.ProviderGmail, Op: op, Err: err}
	}
	var c content
	collect(root, &c)

	for _, att := range c.attachments {
		if att.id != attachmentID {
			continue
		}
		data := att.data
		if att.blobID != "" {
			if err := p.wait(ctx, op, quotaUnitsAttachmentsGet); err != nil {
				return nil, err
			}
			body, err := p.svc.Users.Messages.Attachments.Get(me, messageID, att.blobID).Context(ctx).Do()
			if err != nil {
				return nil, classify(op, err)
			}
			data, err = decodeBase64URL(body.Data)
			if err != nil {
				return nil, &provider.PermanentError{
					Provider: model.ProviderGmail,
					Op:       op,
					Err:      errors.Wrap(err, "decoding attachment"),
				}
			}
		}
		meta := att.attachment()
		meta.Size = int64(len(data))
		return &model.AttachmentData{Attachment: meta, Data: data}, nil
	}

	return nil, &provider.PermanentError{
		Provider: model.ProviderGmail,
		Op:       op,
		Err:      errors.Wrapf(provider.ErrNotFound, "attachment %s of message %s", attachmentID, messageID),
	}
}

// normalize converts an API message into the shared Email shape.
func normalize(msg *gmailapi.Message) (*model.Email, error) {
	root, err := decodePart(msg.Payload)
	if err != nil {
		return nil, &provider.PermanentError{Provider: model.ProviderGmail, Op: "decode message", Err: err}
	}
	var c content
	collect(root, &c)
	body, isHTML := c.body()

	var headers []*gmailapi.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}
	fromName, from := provider.SplitAddress(header(headers, "From"))

	e := &model.Email{
		ID:          msg.Id,
		ThreadID:    msg.ThreadId,
		MailboxID:   provider.ResolveMailbox(msg.LabelIds),
		From:        from,
		FromName:    fromName,
		To:          provider.SplitAddressList(header(headers, "To")),
		Cc:          provider.SplitAddressList(header(headers, "Cc")),
		Subject:     header(headers, "Subject"),
		Body:        body,
		IsHTML:      isHTML,
		IsRead:      !hasLabel(msg.LabelIds, labelUnread),
		IsStarred:   hasLabel(msg.LabelIds, labelStarred),
		IsImportant: hasLabel(msg.LabelIds, labelImportant),
		Labels:      append([]string(nil), msg.LabelIds...),
		ReceivedAt:  time.UnixMilli(msg.InternalDate).UTC(),
	}
	if body != "" {
		e.Preview = provider.Preview(body, isHTML)
	} else {
		e.Preview = provider.Preview(msg.Snippet, true)
	}
	for _, att := range c.attachments {
		e.Attachments = append(e.Attachments, att.attachment())
	}
	return e, nil
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
