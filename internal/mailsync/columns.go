package mailsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// hydrateConcurrency bounds parallel fetches when filling a column page.
const hydrateConcurrency = 4

// isDurable reports whether the user's mail is served by the stub store.
func (s *Service) isDurable(ctx context.Context, userID string) (bool, error) {
	cred, err := s.lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	return cred == nil || cred.Kind == model.ProviderStub, nil
}

// MoveToColumn places an email in a Kanban column. until is required for
// the snoozed column and ignored otherwise.
func (s *Service) MoveToColumn(
	ctx context.Context,
	userID, emailID string,
	column model.Column,
	until *time.Time,
) (model.WorkflowStatus, error) {
	if emailID == "" {
		return model.WorkflowStatus{}, &provider.EncodingError{ID: emailID, Err: errors.New("empty id")}
	}
	durable, err := s.isDurable(ctx, userID)
	if err != nil {
		return model.WorkflowStatus{}, err
	}
	if column != model.ColumnSnoozed {
		until = nil
	}
	st, err := s.deps.Overlay.Move(ctx, userID, emailID, column, until, durable)
	if err != nil {
		return model.WorkflowStatus{}, err
	}
	s.log.WithFields(log.Fields{
		"user_id":  userID,
		"email_id": emailID,
		"column":   st.Column,
	}).Debug("moved email")
	return st, nil
}

// WakeNow returns a snoozed email to the inbox immediately. The result
// reports whether the email was snoozed.
func (s *Service) WakeNow(ctx context.Context, userID, emailID string) (model.WorkflowStatus, bool, error) {
	st, changed, err := s.deps.Overlay.Wake(ctx, userID, emailID)
	if err != nil {
		return model.WorkflowStatus{}, false, err
	}
	if changed && s.deps.Notifier != nil {
		s.deps.Notifier.EmailWoken(st)
	}
	return st, changed, nil
}

// ListByColumn returns one page of a Kanban column.
//
// The inbox column is the provider's INBOX page with every email placed
// in another column filtered out. Total and HasMore still come from the
// provider, so hidden emails take up page slots and are counted. Other
// columns are built from the overlay and hydrated from the provider.
func (s *Service) ListByColumn(
	ctx context.Context,
	userID string,
	column model.Column,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	if _, err := model.ParseColumn(string(column)); err != nil {
		return nil, err
	}
	opts = opts.Clamp()

	if column == model.ColumnInbox {
		return s.listInboxColumn(ctx, userID, opts)
	}

	ids := s.deps.Overlay.IDsInColumn(userID, column)
	page := &model.EmailPage{
		Emails: []model.Email{},
		Total:  len(ids),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if opts.Offset >= len(ids) {
		return page, nil
	}
	end := min(opts.Offset+opts.Limit, len(ids))
	page.HasMore = end < len(ids)

	emails, err := s.hydrate(ctx, userID, ids[opts.Offset:end])
	if err != nil {
		return nil, err
	}
	page.Emails = emails
	return page, nil
}

func (s *Service) listInboxColumn(
	ctx context.Context,
	userID string,
	opts provider.ListOptions,
) (*model.EmailPage, error) {
	page, err := s.ListEmails(ctx, userID, model.MailboxInbox, opts)
	if err != nil {
		return nil, err
	}
	visible := page.Emails[:0]
	for _, e := range page.Emails {
		if e.Status == model.ColumnInbox {
			visible = append(visible, e)
		}
	}
	page.Emails = visible
	return page, nil
}

// hydrate fetches the given emails in parallel, keeping their order.
// Emails that no longer exist upstream are skipped.
func (s *Service) hydrate(ctx context.Context, userID string, ids []string) ([]model.Email, error) {
	b, err := s.bind(ctx, userID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	fetched := make([]*model.Email, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			e, err := b.GetMessage(gctx, id)
			if provider.IsNotFound(err) {
				s.log.WithFields(log.Fields{
					"user_id":  userID,
					"email_id": id,
				}).Debug("column entry no longer exists upstream")
				return nil
			}
			if err != nil {
				return fmt.Errorf("hydrating %s: %w", id, err)
			}
			fetched[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logFailure(b, "list by column", err)
		return nil, err
	}

	emails := make([]model.Email, 0, len(ids))
	for _, e := range fetched {
		if e == nil {
			continue
		}
		s.deps.Overlay.Apply(userID, e)
		emails = append(emails, *e)
	}
	return emails, nil
}
