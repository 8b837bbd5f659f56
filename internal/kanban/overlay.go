// Package kanban layers workflow columns and snooze deadlines on top of
// provider mail.
package kanban

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// ErrDeadlineRequired is returned when snoozing without a wake deadline.
var ErrDeadlineRequired = errors.New("snooze requires a wake deadline")

// Persister writes durable entries through to storage.
type Persister interface {
	SaveWorkflowStatus(ctx context.Context, st model.WorkflowStatus) error
	DeleteWorkflowStatus(ctx context.Context, userID, emailID string) error
}

// Loader reads previously persisted entries.
type Loader interface {
	LoadWorkflowStatuses(ctx context.Context) ([]model.WorkflowStatus, error)
}

type key struct {
	userID  string
	emailID string
}

// Overlay is the in-process workflow map. All reads and transitions go
// through one mutex.
type Overlay struct {
	mu      sync.Mutex
	entries map[key]model.WorkflowStatus

	persist Persister
	now     func() time.Time
	log     *log.Entry
}

// NewOverlay creates an empty overlay. persist may be nil, in which case
// durable entries are kept in memory only.
func NewOverlay(persist Persister, logger *log.Entry) *Overlay {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Overlay{
		entries: make(map[key]model.WorkflowStatus),
		persist: persist,
		now:     time.Now,
		log:     logger.WithField("component", "kanban"),
	}
}

// Load replaces the overlay contents with the persisted entries.
func (o *Overlay) Load(ctx context.Context, src Loader) error {
	statuses, err := src.LoadWorkflowStatuses(ctx)
	if err != nil {
		return fmt.Errorf("loading workflow statuses: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.entries = make(map[key]model.WorkflowStatus, len(statuses))
	for _, st := range statuses {
		st.Durable = true
		o.entries[key{st.UserID, st.EmailID}] = st
	}
	o.log.WithField("count", len(statuses)).Debug("loaded workflow statuses")
	return nil
}

// transition is the single mutation primitive. fn receives the current
// entry (zero value with Column inbox when absent) and reports whether it
// changed anything. The changed entry is stored and, when durable,
// persisted before the lock is released.
func (o *Overlay) transition(
	ctx context.Context,
	k key,
	fn func(st *model.WorkflowStatus) bool,
) (model.WorkflowStatus, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitionLocked(ctx, k, fn)
}

func (o *Overlay) transitionLocked(
	ctx context.Context,
	k key,
	fn func(st *model.WorkflowStatus) bool,
) (model.WorkflowStatus, bool, error) {
	st, ok := o.entries[k]
	if !ok {
		st = model.WorkflowStatus{
			UserID:  k.userID,
			EmailID: k.emailID,
			Column:  model.ColumnInbox,
		}
	}

	next := st
	if !fn(&next) {
		return st, false, nil
	}
	next.UpdatedAt = o.now().UTC()

	if next.Durable && o.persist != nil {
		if err := o.persist.SaveWorkflowStatus(ctx, next); err != nil {
			return st, false, fmt.Errorf("persisting workflow status: %w", err)
		}
	}
	o.entries[k] = next
	return next, true, nil
}

// Move places an email in a column. Snoozing requires until; every other
// column clears any deadline. durable marks entries that belong to stub
// mail and must survive restarts.
func (o *Overlay) Move(
	ctx context.Context,
	userID, emailID string,
	column model.Column,
	until *time.Time,
	durable bool,
) (model.WorkflowStatus, error) {
	if _, err := model.ParseColumn(string(column)); err != nil {
		return model.WorkflowStatus{}, err
	}
	if column == model.ColumnSnoozed && until == nil {
		return model.WorkflowStatus{}, ErrDeadlineRequired
	}

	st, _, err := o.transition(ctx, key{userID, emailID}, func(st *model.WorkflowStatus) bool {
		if st.Column != column {
			st.PreviousColumn = st.Column
		}
		st.Column = column
		st.SnoozedUntil = nil
		if column == model.ColumnSnoozed {
			t := until.UTC()
			st.SnoozedUntil = &t
		}
		st.Durable = st.Durable || durable
		return true
	})
	return st, err
}

// Wake moves a snoozed email back to the inbox and clears its deadline.
// It reports false when the email was not snoozed.
func (o *Overlay) Wake(ctx context.Context, userID, emailID string) (model.WorkflowStatus, bool, error) {
	return o.transition(ctx, key{userID, emailID}, wake)
}

func wake(st *model.WorkflowStatus) bool {
	if st.Column != model.ColumnSnoozed {
		return false
	}
	st.PreviousColumn = model.ColumnSnoozed
	st.Column = model.ColumnInbox
	st.SnoozedUntil = nil
	return true
}

// WakeDue wakes every snoozed entry whose deadline is at or before now
// and returns the woken entries.
func (o *Overlay) WakeDue(ctx context.Context, now time.Time) ([]model.WorkflowStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []key
	for k, st := range o.entries {
		if st.Column == model.ColumnSnoozed && st.SnoozedUntil != nil && !now.Before(*st.SnoozedUntil) {
			due = append(due, k)
		}
	}

	var woken []model.WorkflowStatus
	var errs []error
	for _, k := range due {
		st, changed, err := o.transitionLocked(ctx, k, wake)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			woken = append(woken, st)
		}
	}
	sort.Slice(woken, func(i, j int) bool {
		if woken[i].UserID != woken[j].UserID {
			return woken[i].UserID < woken[j].UserID
		}
		return woken[i].EmailID < woken[j].EmailID
	})
	return woken, errors.Join(errs...)
}

// Remove drops an entry, returning the email to its default column.
func (o *Overlay) Remove(ctx context.Context, userID, emailID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	k := key{userID, emailID}
	st, ok := o.entries[k]
	if !ok {
		return nil
	}
	if st.Durable && o.persist != nil {
		if err := o.persist.DeleteWorkflowStatus(ctx, userID, emailID); err != nil {
			return fmt.Errorf("deleting workflow status: %w", err)
		}
	}
	delete(o.entries, k)
	return nil
}

// Status returns the entry for an email, if any.
func (o *Overlay) Status(userID, emailID string) (model.WorkflowStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.entries[key{userID, emailID}]
	return st, ok
}

// Column returns the effective column of an email: inbox when the email
// has no entry.
func (o *Overlay) Column(userID, emailID string) model.Column {
	if st, ok := o.Status(userID, emailID); ok {
		return st.Column
	}
	return model.ColumnInbox
}

// IDsInColumn returns the IDs of the user's emails explicitly placed in
// column, most recently moved first.
func (o *Overlay) IDsInColumn(userID string, column model.Column) []string {
	o.mu.Lock()
	var matched []model.WorkflowStatus
	for k, st := range o.entries {
		if k.userID == userID && st.Column == column {
			matched = append(matched, st)
		}
	}
	o.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].EmailID < matched[j].EmailID
	})
	ids := make([]string, len(matched))
	for i, st := range matched {
		ids[i] = st.EmailID
	}
	return ids
}

// Apply merges the overlay state into an email.
func (o *Overlay) Apply(userID string, e *model.Email) {
	st, ok := o.Status(userID, e.ID)
	if !ok {
		e.Status = model.ColumnInbox
		e.SnoozedUntil = nil
		return
	}
	e.Status = st.Column
	e.SnoozedUntil = nil
	if st.SnoozedUntil != nil {
		t := *st.SnoozedUntil
		e.SnoozedUntil = &t
	}
}
