package kanban

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// DefaultTickInterval is the wake scan period when none is configured.
const DefaultTickInterval = 60 * time.Second

// Notifier is told about emails the scheduler woke.
type Notifier interface {
	EmailWoken(st model.WorkflowStatus)
}

// Scheduler periodically wakes snoozed emails whose deadline has passed.
// It does nothing until Start is called.
type Scheduler struct {
	overlay  *Overlay
	notifier Notifier
	interval time.Duration
	log      *log.Entry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler over overlay. notifier may be nil.
func NewScheduler(
	overlay *Overlay,
	notifier Notifier,
	interval time.Duration,
	logger *log.Entry,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Scheduler{
		overlay:  overlay,
		notifier: notifier,
		interval: interval,
		log:      logger.WithField("component", "kanban-scheduler"),
	}
}

// Start launches the ticking goroutine. It returns immediately; calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
}

// Stop halts the ticking goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("snooze scheduler started")
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.ScanNow(ctx, now)
		}
	}
}

// ScanNow runs one wake scan as of now and returns the woken entries.
func (s *Scheduler) ScanNow(ctx context.Context, now time.Time) []model.WorkflowStatus {
	woken, err := s.overlay.WakeDue(ctx, now)
	if err != nil {
		s.log.WithError(err).Warn("persisting woken emails")
	}

	for _, st := range woken {
		s.log.WithFields(log.Fields{
			"user_id":  st.UserID,
			"email_id": st.EmailID,
		}).Debug("email woken")
		if s.notifier != nil {
			s.notifier.EmailWoken(st)
		}
	}
	return woken
}
