// Package relay fans events out to every live session of a user.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// DefaultSessionBuffer is the number of frames a session may fall behind
// before it is dropped.
const DefaultSessionBuffer = 16

// intakeBuffer sizes the register, unregister and broadcast intakes.
const intakeBuffer = 64

// ErrStopped is returned by intakes once Run has returned.
var ErrStopped = errors.New("relay stopped")

// Relay owns the session registry. Run is the only goroutine that
// mutates it; callers talk to Run through the intake channels.
type Relay struct {
	register   chan *Session
	unregister chan *Session
	broadcast  chan model.Event

	buffer int

	// mu guards sessions for SessionCount; Run holds it while mutating.
	mu       sync.Mutex
	sessions map[string]map[*Session]struct{}

	done chan struct{}
	once sync.Once
	log  *log.Entry
}

// New creates a relay. buffer is the per-session frame buffer.
func New(buffer int, logger *log.Entry) *Relay {
	if buffer <= 0 {
		buffer = DefaultSessionBuffer
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Relay{
		register:   make(chan *Session, intakeBuffer),
		unregister: make(chan *Session, intakeBuffer),
		broadcast:  make(chan model.Event, intakeBuffer),
		buffer:     buffer,
		sessions:   make(map[string]map[*Session]struct{}),
		done:       make(chan struct{}),
		log:        logger.WithField("component", "relay"),
	}
}

// NewSession creates a session for userID. It receives nothing until it
// is registered.
func (r *Relay) NewSession(userID string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		out:    make(chan []byte, r.buffer),
	}
}

// Run processes the intakes until ctx is done, then closes every
// session.
func (r *Relay) Run(ctx context.Context) error {
	defer r.shutdown()
	r.log.Info("relay started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return nil

		case s := <-r.register:
			r.add(s)

		case s := <-r.unregister:
			r.remove(s, "unregistered")

		case ev := <-r.broadcast:
			r.deliver(ev)
		}
	}
}

func (r *Relay) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[s.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessions[s.UserID] = set
	}
	set[s] = struct{}{}
	r.log.WithFields(log.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
		"sessions":   len(set),
	}).Debug("session registered")
}

// remove closes a registered session. Unknown sessions are ignored so a
// session dropped for being slow can still be unregistered by its owner.
func (r *Relay) remove(s *Session, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(s, reason)
}

func (r *Relay) removeLocked(s *Session, reason string) {
	set, ok := r.sessions[s.UserID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, s.UserID)
	}
	close(s.out)
	r.log.WithFields(log.Fields{
		"user_id":    s.UserID,
		"session_id": s.ID,
	}).Debug("session " + reason)
}

// deliver formats ev once and offers it to each of the user's sessions.
// A session whose buffer is full is dropped.
func (r *Relay) deliver(ev model.Event) {
	frame, err := Frame(ev)
	if err != nil {
		r.log.WithError(err).WithField("type", ev.Type).Error("encoding event")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions[ev.UserID] {
		select {
		case s.out <- frame:
		default:
			r.log.WithFields(log.Fields{
				"user_id":    s.UserID,
				"session_id": s.ID,
			}).Warn("dropping slow session")
			r.removeLocked(s, "dropped")
		}
	}
}

func (r *Relay) shutdown() {
	r.once.Do(func() {
		close(r.done)
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, set := range r.sessions {
			for s := range set {
				close(s.out)
			}
		}
		r.sessions = make(map[string]map[*Session]struct{})

		for {
			select {
			case s := <-r.register:
				close(s.out)
			default:
				return
			}
		}
	})
}

func (r *Relay) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Register adds a session to its user's set.
func (r *Relay) Register(ctx context.Context, s *Session) error {
	if r.stopped() {
		return ErrStopped
	}
	select {
	case r.register <- s:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes a session and closes its channel. It never blocks
// once the relay has stopped.
func (r *Relay) Unregister(s *Session) {
	select {
	case r.unregister <- s:
	case <-r.done:
	}
}

// Broadcast queues an event for every session of ev.UserID.
func (r *Relay) Broadcast(ctx context.Context, ev model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if r.stopped() {
		return ErrStopped
	}
	select {
	case r.broadcast <- ev:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish builds and broadcasts an event.
func (r *Relay) Publish(ctx context.Context, userID, eventType string, data any) error {
	return r.Broadcast(ctx, model.Event{Type: eventType, UserID: userID, Data: data})
}

// SessionCount returns the number of live sessions for userID.
func (r *Relay) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID])
}

// EmailWoken reports a snoozed email returning to the inbox.
func (r *Relay) EmailWoken(st model.WorkflowStatus) {
	err := r.Publish(context.Background(), st.UserID, model.EventEmailWoken, st)
	if err != nil {
		r.log.WithError(err).WithField("email_id", st.EmailID).Debug("email_woken not delivered")
	}
}

// Frame renders an event as a server-sent event frame.
func Frame(ev model.Event) ([]byte, error) {
	data := []byte("{}")
	if ev.Data != nil {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s payload: %w", ev.Type, err)
		}
	}
	frame := make([]byte, 0, len(data)+len(ev.ID)+len(ev.Type)+24)
	if ev.ID != "" {
		frame = append(frame, "id: "+ev.ID+"\n"...)
	}
	frame = append(frame, "event: "+ev.Type+"\n"...)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
