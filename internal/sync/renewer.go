// Package sync keeps push watches armed. Gmail watches expire after a
// week and IMAP IDLE watchers do not survive a restart, so every
// connected mailbox is re-armed on start and then periodically.
package sync

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// RenewState represents the current state of one user's watch.
type RenewState int

const (
	RenewIdle RenewState = iota
	RenewRunning
	RenewError
)

func (s RenewState) String() string {
	switch s {
	case RenewRunning:
		return "running"
	case RenewError:
		return "error"
	default:
		return "idle"
	}
}

// RenewStatus holds the watch state for a single user.
type RenewStatus struct {
	UserID      string
	State       RenewState
	LastRenewal time.Time
	Expiration  time.Time
	Error       error
}

// DefaultInterval re-arms watches well inside Gmail's seven day expiry.
const DefaultInterval = 24 * time.Hour

// renewTimeout is the maximum time allowed for one user's renewal.
const renewTimeout = 30 * time.Second

// UserLister lists the users whose watches should be kept armed.
type UserLister interface {
	UserIDsByKind(ctx context.Context, kinds ...model.ProviderKind) ([]string, error)
}

// Watcher arms the push watch for one user.
type Watcher interface {
	StartWatch(ctx context.Context, userID string) (*model.WatchState, error)
}

// Renewer re-arms push watches in the background.
type Renewer struct {
	users    UserLister
	watcher  Watcher
	kinds    []model.ProviderKind
	interval time.Duration

	statuses  map[string]*RenewStatus
	triggerCh chan string
	mu        gosync.Mutex
	log       *log.Entry
}

// New creates a Renewer for users of the given provider kinds.
func New(
	users UserLister,
	watcher Watcher,
	kinds []model.ProviderKind,
	interval time.Duration,
	logger *log.Entry,
) *Renewer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Renewer{
		users:     users,
		watcher:   watcher,
		kinds:     kinds,
		interval:  interval,
		statuses:  make(map[string]*RenewStatus),
		triggerCh: make(chan string, 16),
		log:       logger.WithField("component", "watch-renewer"),
	}
}

// Run renews every watch immediately, then on each tick and on demand,
// until ctx is done.
func (r *Renewer) Run(ctx context.Context) error {
	if len(r.kinds) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RenewAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RenewAll(ctx)
		case userID := <-r.triggerCh:
			r.renew(ctx, userID)
		}
	}
}

// Refresh asks the running loop to renew one user's watch.
func (r *Renewer) Refresh(userID string) {
	select {
	case r.triggerCh <- userID:
	default:
		// Channel full; the next tick covers it
	}
}

// RenewAll renews every listed user's watch sequentially.
func (r *Renewer) RenewAll(ctx context.Context) {
	ids, err := r.users.UserIDsByKind(ctx, r.kinds...)
	if err != nil {
		r.log.WithError(err).Warn("listing users to renew")
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		r.renew(ctx, id)
	}
	r.log.WithField("users", len(ids)).Debug("watches renewed")
}

func (r *Renewer) renew(ctx context.Context, userID string) {
	r.setStatus(userID, RenewRunning, nil, nil)

	ctx, cancel := context.WithTimeout(ctx, renewTimeout)
	defer cancel()

	state, err := r.watcher.StartWatch(ctx, userID)
	if err != nil {
		entry := r.log.WithError(err).WithField("user_id", userID)
		if provider.IsCredentialError(err) {
			entry.Warn("watch not renewed: credential rejected")
		} else {
			entry.Info("watch not renewed")
		}
		r.setStatus(userID, RenewError, nil, err)
		return
	}
	r.setStatus(userID, RenewIdle, state, nil)
}

func (r *Renewer) setStatus(userID string, state RenewState, ws *model.WatchState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[userID]
	if !ok {
		status = &RenewStatus{UserID: userID}
		r.statuses[userID] = status
	}

	status.State = state
	status.Error = err
	if state == RenewIdle && err == nil {
		status.LastRenewal = time.Now()
		if ws != nil {
			status.Expiration = ws.Expiration
		}
	}
}

// Statuses returns the current watch status of every user seen so far,
// ordered by user ID.
func (r *Renewer) Statuses() []RenewStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]RenewStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].UserID < statuses[j].UserID })
	return statuses
}
