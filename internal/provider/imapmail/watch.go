package imapmail

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

const (
	// idleRefresh restarts IDLE before servers drop it (RFC 2177 allows
	// servers to end it after 30 minutes).
	idleRefresh = 25 * time.Minute

	// watchRetryDelay separates reconnect attempts after a failure.
	watchRetryDelay = 30 * time.Second
)

// NotifyFunc is called with the account address when INBOX changes.
type NotifyFunc func(ctx context.Context, address string)

// Watchers owns the IDLE goroutines of every watched account.
type Watchers struct {
	ctx    context.Context
	notify NotifyFunc
	log    *log.Entry

	mu     sync.Mutex
	active map[string]*watch
}

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchers creates a registry whose goroutines live until ctx is done
// or they are stopped.
func NewWatchers(ctx context.Context, notify NotifyFunc, logger *log.Entry) *Watchers {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Watchers{
		ctx:    ctx,
		notify: notify,
		log:    logger.WithField("component", "imap-watch"),
		active: make(map[string]*watch),
	}
}

// Start begins watching acct under key, replacing any previous watch.
func (w *Watchers) Start(key string, acct Account) {
	w.Stop(key)

	ctx, cancel := context.WithCancel(w.ctx)
	wt := &watch{cancel: cancel, done: make(chan struct{})}

	w.mu.Lock()
	w.active[key] = wt
	w.mu.Unlock()

	go func() {
		defer close(wt.done)
		w.run(ctx, key, acct)
	}()
}

// Stop cancels the watch under key and waits for it to exit.
func (w *Watchers) Stop(key string) {
	w.mu.Lock()
	wt, ok := w.active[key]
	delete(w.active, key)
	w.mu.Unlock()

	if ok {
		wt.cancel()
		<-wt.done
	}
}

// StopAll cancels every watch.
func (w *Watchers) StopAll() {
	w.mu.Lock()
	keys := make([]string, 0, len(w.active))
	for k := range w.active {
		keys = append(keys, k)
	}
	w.mu.Unlock()

	for _, k := range keys {
		w.Stop(k)
	}
}

// Active reports whether key is being watched.
func (w *Watchers) Active(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[key]
	return ok
}

func (w *Watchers) run(ctx context.Context, key string, acct Account) {
	logger := w.log.WithField("user_id", key)
	for {
		err := w.idle(ctx, acct)
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("imap idle interrupted, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

// idle holds one IDLE session on INBOX, notifying on every new message
// count, until the connection fails or ctx is done.
func (w *Watchers) idle(ctx context.Context, acct Account) error {
	changed := make(chan struct{}, 1)
	var last uint32

	s, err := connect(ctx, acct, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case changed <- struct{}{}:
				default:
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer s.close()

	selected, err := s.Select("INBOX", nil).Wait()
	if err != nil {
		return err
	}
	last = selected.NumMessages

	for {
		cmd, err := s.Idle()
		if err != nil {
			return err
		}

		refresh := time.NewTimer(idleRefresh)
		var notify bool
		select {
		case <-ctx.Done():
		case <-changed:
			notify = true
		case <-refresh.C:
		}
		refresh.Stop()

		if err := cmd.Close(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !notify {
			continue
		}

		// Only growth means new mail; expunges also change the count.
		status, err := s.Select("INBOX", nil).Wait()
		if err != nil {
			return err
		}
		if status.NumMessages > last {
			w.log.WithFields(log.Fields{
				"provider": model.ProviderIMAP,
				"address":  acct.address(),
			}).Debug("new mail")
			if w.notify != nil {
				w.notify(ctx, acct.address())
			}
		}
		last = status.NumMessages
	}
}

// StartWatch begins an IDLE watch on INBOX. topic is not used by IMAP.
func (p *Provider) StartWatch(ctx context.Context, topic string) (*model.WatchState, error) {
	if p.watchers == nil {
		return nil, permanent("start watch", errNoWatchers)
	}
	p.watchers.Start(p.watchKey, p.acct)
	return &model.WatchState{}, nil
}

// StopWatch stops the account's IDLE watch.
func (p *Provider) StopWatch(ctx context.Context) error {
	if p.watchers != nil {
		p.watchers.Stop(p.watchKey)
	}
	return nil
}
