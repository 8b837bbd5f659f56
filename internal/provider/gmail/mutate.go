package gmail

import (
	"context"
	"encoding/base64"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// SetFlag maps read to the absence of UNREAD and starred to STARRED.
func (p *Provider) SetFlag(ctx context.Context, id string, flag provider.Flag, on bool) error {
	req := &gmailapi.ModifyMessageRequest{}
	switch flag {
	case provider.FlagRead:
		if on {
			req.RemoveLabelIds = []string{labelUnread}
		} else {
			req.AddLabelIds = []string{labelUnread}
		}
	case provider.FlagStarred:
		if on {
			req.AddLabelIds = []string{labelStarred}
		} else {
			req.RemoveLabelIds = []string{labelStarred}
		}
	default:
		return &provider.PermanentError{
			Provider: model.ProviderGmail,
			Op:       "set flag",
			Err:      errUnknownFlag(flag),
		}
	}
	return p.modify(ctx, "set flag", id, req)
}

// Archive removes the message from the inbox.
func (p *Provider) Archive(ctx context.Context, id string) error {
	return p.modify(ctx, "archive", id, &gmailapi.ModifyMessageRequest{
		RemoveLabelIds: []string{model.MailboxInbox},
	})
}

func (p *Provider) modify(ctx context.Context, op, id string, req *gmailapi.ModifyMessageRequest) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := p.wait(ctx, op, quotaUnitsMessagesModify); err != nil {
		return err
	}
	_, err := p.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do()
	return classify(op, err)
}

// MoveToTrash moves the message to the trash.
func (p *Provider) MoveToTrash(ctx context.Context, id string) error {
	const op = "trash"
	if err := checkID(id); err != nil {
		return err
	}
	if err := p.wait(ctx, op, quotaUnitsMessagesTrash); err != nil {
		return err
	}
	_, err := p.svc.Users.Messages.Trash(me, id).Context(ctx).Do()
	return classify(op, err)
}

// Send submits a message. Gmail reads recipients from the headers and
// strips Bcc itself, so Bcc is written into the document.
func (p *Provider) Send(ctx context.Context, msg model.OutgoingMessage) error {
	const op = "send"
	raw, err := provider.ComposeMIME(msg, true)
	if err != nil {
		return &provider.PermanentError{Provider: model.ProviderGmail, Op: op, Err: err}
	}
	if err := p.wait(ctx, op, quotaUnitsMessagesSend); err != nil {
		return err
	}
	_, err = p.svc.Users.Messages.Send(me, &gmailapi.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	return classify(op, err)
}

// StartWatch asks Gmail to publish INBOX changes to a Pub/Sub topic.
func (p *Provider) StartWatch(ctx context.Context, topic string) (*model.WatchState, error) {
	const op = "start watch"
	if topic == "" {
		return nil, &provider.PermanentError{Provider: model.ProviderGmail, Op: op, Err: errNoTopic}
	}
	if err := p.wait(ctx, op, quotaUnitsWatch); err != nil {
		return nil, err
	}
	resp, err := p.svc.Users.Watch(me, &gmailapi.WatchRequest{
		TopicName:         topic,
		LabelIds:          []string{model.MailboxInbox},
		LabelFilterAction: "include",
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}
	return &model.WatchState{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatch stops push notifications for the mailbox.
func (p *Provider) StopWatch(ctx context.Context) error {
	const op = "stop watch"
	if err := p.wait(ctx, op, quotaUnitsStop); err != nil {
		return err
	}
	return classify(op, p.svc.Users.Stop(me).Context(ctx).Do())
}

// ValidateCredential fetches the profile and returns the account address.
func (p *Provider) ValidateCredential(ctx context.Context) (string, error) {
	const op = "validate credential"
	if err := p.wait(ctx, op, quotaUnitsGetProfile); err != nil {
		return "", err
	}
	profile, err := p.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", classify(op, err)
	}
	return profile.EmailAddress, nil
}
