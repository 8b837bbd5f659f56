package gmail

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailsync/internal/model"
)

// systemLabels lists the system labels shown as mailboxes, in display
// order. Other system labels (CATEGORY_*, CHAT, UNREAD) are hidden.
var systemLabels = []struct {
	id, name, typ string
}{
	{model.MailboxInbox, "Inbox", model.MailboxTypeInbox},
	{model.MailboxStarred, "Starred", model.MailboxTypeStarred},
	{model.MailboxImportant, "Important", model.MailboxTypeImportant},
	{model.MailboxSent, "Sent", model.MailboxTypeSent},
	{model.MailboxDraft, "Drafts", model.MailboxTypeDrafts},
	{model.MailboxSpam, "Spam", model.MailboxTypeSpam},
	{model.MailboxTrash, "Trash", model.MailboxTypeTrash},
}

// ListMailboxes returns whitelisted system labels followed by user labels
// sorted by name, each with message counts.
func (p *Provider) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	const op = "list mailboxes"
	if err := p.wait(ctx, op, quotaUnitsLabelsList); err != nil {
		return nil, err
	}
	resp, err := p.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, classify(op, err)
	}

	present := make(map[string]bool)
	var user []*gmailapi.Label
	for _, l := range resp.Labels {
		switch l.Type {
		case "system":
			present[l.Id] = true
		case "user":
			user = append(user, l)
		}
	}
	sort.Slice(user, func(i, j int) bool { return user[i].Name < user[j].Name })

	var boxes []model.Mailbox
	for _, s := range systemLabels {
		if present[s.id] {
			boxes = append(boxes, model.Mailbox{ID: s.id, Name: s.name, Type: s.typ})
		}
	}
	for _, l := range user {
		boxes = append(boxes, model.Mailbox{ID: l.Id, Name: l.Name, Type: model.MailboxTypeUser})
	}

	// labels.list omits counts; fetch them per label.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i := range boxes {
		g.Go(func() error {
			if err := p.wait(gctx, op, quotaUnitsLabelsGet); err != nil {
				return err
			}
			l, err := p.svc.Users.Labels.Get(me, boxes[i].ID).Context(gctx).Do()
			if err != nil {
				return classify(op, err)
			}
			boxes[i].UnreadCount = int(l.MessagesUnread)
			boxes[i].TotalCount = int(l.MessagesTotal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return boxes, nil
}
