package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// DefaultHeartbeat is the keep-alive interval for idle streams.
const DefaultHeartbeat = 20 * time.Second

// ErrSessionClosed is returned by Pump when the relay closed the session.
var ErrSessionClosed = errors.New("session closed by relay")

var heartbeatFrame = []byte(": ping\n\n")

// Session is one live event stream of a user.
type Session struct {
	ID     string
	UserID string

	// out is closed by the relay only.
	out chan []byte
}

// Frames exposes the outbound channel. It is closed when the relay
// unregisters or drops the session.
func (s *Session) Frames() <-chan []byte {
	return s.out
}

// Pump writes a ready frame, then every frame queued for the session,
// calling flush after each write. It returns when ctx is done, a write
// fails or the relay closes the session.
func (s *Session) Pump(ctx context.Context, w io.Writer, flush func(), heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if flush == nil {
		flush = func() {}
	}

	ready, err := Frame(model.Event{
		Type:   model.EventReady,
		UserID: s.UserID,
		Data:   map[string]string{"sessionId": s.ID},
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(ready); err != nil {
		return fmt.Errorf("writing ready frame: %w", err)
	}
	flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame, ok := <-s.out:
			if !ok {
				return ErrSessionClosed
			}
			if _, err := w.Write(frame); err != nil {
				return fmt.Errorf("writing frame: %w", err)
			}
			flush()

		case <-ticker.C:
			if _, err := w.Write(heartbeatFrame); err != nil {
				return fmt.Errorf("writing heartbeat: %w", err)
			}
			flush()
		}
	}
}
