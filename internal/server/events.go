package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/relay"
)

// maxPushBody bounds a Pub/Sub push request.
const maxPushBody = 64 << 10

// events streams the caller's notifications as server-sent events until
// the client disconnects or the relay drops the session.
func (s *HTTPServer) events(c echo.Context) error {
	ctx := c.Request().Context()
	sess := s.relay.NewSession(userID(c))
	if err := s.relay.Register(ctx, sess); err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Live updates are unavailable."})
	}
	defer s.relay.Unregister(sess)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	entry := s.log.WithFields(log.Fields{"user_id": sess.UserID, "session_id": sess.ID})
	entry.Debug("event stream opened")

	err := sess.Pump(ctx, res, res.Flush, s.heartbeat)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, relay.ErrSessionClosed):
		entry.WithError(err).Debug("event stream closed")
	case err != nil:
		entry.WithError(err).Info("event stream ended")
	}
	return nil
}

// gmailWebhook accepts Pub/Sub push deliveries. Bodies are either
// forwarded to the broker or dispatched inline.
func (s *HTTPServer) gmailWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBody))
	if err != nil {
		return s.fail(c, badRequest("reading push body"))
	}
	n, err := relay.DecodeGmailPush(body)
	if err != nil {
		s.log.WithError(err).Warn("rejecting malformed push")
		return s.fail(c, badRequest("malformed push payload"))
	}

	ctx := c.Request().Context()
	if s.forwarder != nil {
		err = s.forwarder.Publish(ctx, body)
	} else {
		err = s.dispatcher.MailboxChanged(ctx, n.EmailAddress, uint64(n.HistoryID))
	}
	if err != nil {
		s.log.WithError(err).Warn("push not accepted")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Try again later."})
	}
	return c.NoContent(http.StatusNoContent)
}
