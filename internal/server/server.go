// Package server exposes the mailbox operations, the live event stream
// and the Gmail push webhook over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/relay"
)

// Forwarder queues raw push bodies for asynchronous dispatch.
type Forwarder interface {
	Publish(ctx context.Context, body []byte) error
}

// WatchRefresher re-arms push watches for a newly connected mailbox.
type WatchRefresher interface {
	Refresh(userID string)
}

// Options configures an HTTPServer. Mail, Relay and Dispatcher are
// required; Forwarder is set when push bodies go through the broker.
type Options struct {
	Mail       *mailsync.Service
	Relay      *relay.Relay
	Dispatcher *relay.Dispatcher
	Forwarder  Forwarder
	Watches    WatchRefresher
	Heartbeat  time.Duration
	Logger     *log.Entry
}

// HTTPServer is the echo application.
type HTTPServer struct {
	echo       *echo.Echo
	mail       *mailsync.Service
	relay      *relay.Relay
	dispatcher *relay.Dispatcher
	forwarder  Forwarder
	watches    WatchRefresher
	heartbeat  time.Duration
	log        *log.Entry
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i any) error {
	return r.v.Struct(i)
}

// NewHTTPServer wires middleware and routes.
func NewHTTPServer(opts Options) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("component", "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency,
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	}))

	s := &HTTPServer{
		echo:       e,
		mail:       opts.Mail,
		relay:      opts.Relay,
		dispatcher: opts.Dispatcher,
		forwarder:  opts.Forwarder,
		watches:    opts.Watches,
		heartbeat:  opts.Heartbeat,
		log:        logger,
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	e := s.echo
	e.GET("/health", s.healthCheck)
	e.POST("/api/v1/webhooks/gmail", s.gmailWebhook)

	api := e.Group("/api/v1", requireUser)
	api.GET("/events", s.events)

	api.GET("/mailboxes", s.listMailboxes)
	api.GET("/mailboxes/:mailbox/emails", s.listEmails)

	api.POST("/emails", s.send)
	api.GET("/emails/:id", s.getEmail)
	api.PATCH("/emails/:id", s.updateFlags)
	api.POST("/emails/:id/star/toggle", s.toggleStar)
	api.POST("/emails/:id/trash", s.trash)
	api.POST("/emails/:id/archive", s.archive)
	api.GET("/emails/:id/attachments/:attachment", s.getAttachment)
	api.GET("/emails/:id/summary", s.summarize)
	api.PUT("/emails/:id/column", s.moveToColumn)
	api.POST("/emails/:id/wake", s.wake)

	api.GET("/columns/:column", s.listColumn)

	api.POST("/watch", s.startWatch)
	api.DELETE("/watch", s.stopWatch)

	api.GET("/account", s.validateAccount)
	api.POST("/account/imap", s.connectIMAP)
	api.GET("/account/gmail/auth-url", s.gmailAuthURL)
	api.POST("/account/gmail", s.connectGmail)
	api.POST("/account/logout", s.logout)
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mailsync",
	})
}

// Start listens on address until Shutdown.
func (s *HTTPServer) Start(address string) error {
	s.log.Infof("Starting HTTP server on %s", address)
	return s.echo.Start(address)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}
