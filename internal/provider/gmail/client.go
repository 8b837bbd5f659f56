// Package gmail implements the mail provider contract on top of the Gmail
// REST API.
package gmail

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/token"
)

// Scopes requested during sign-in.
var Scopes = []string{
	gmailapi.GmailModifyScope,
	gmailapi.GmailSendScope,
	"openid",
	"email",
}

const (
	// me addresses the authenticated user.
	me = "me"

	// See https://developers.google.com/gmail/api/reference/quota
	quotaUnitsMessagesGet    = 5
	quotaUnitsMessagesList   = 5
	quotaUnitsMessagesModify = 5
	quotaUnitsMessagesTrash  = 5
	quotaUnitsMessagesSend   = 100
	quotaUnitsAttachmentsGet = 5
	quotaUnitsLabelsList     = 1
	quotaUnitsLabelsGet      = 1
	quotaUnitsGetProfile     = 1
	quotaUnitsWatch          = 100
	quotaUnitsStop           = 50

	// DefaultQuotaPerSecond is Gmail's per-user quota.
	DefaultQuotaPerSecond = 250

	// hydrateConcurrency bounds parallel message fetches for one page.
	hydrateConcurrency = 8

	// skipPageSize is the largest page Gmail serves when skipping ahead.
	skipPageSize = 500
)

// NewLimiter returns a limiter that keeps a user below Gmail's quota.
func NewLimiter(quotaPerSecond float64) *rate.Limiter {
	if quotaPerSecond <= 0 {
		quotaPerSecond = DefaultQuotaPerSecond
	}
	return rate.NewLimiter(rate.Limit(quotaPerSecond*0.8), int(quotaPerSecond))
}

// Config binds a provider to one user's OAuth credential.
type Config struct {
	OAuth    *oauth2.Config
	Token    *oauth2.Token
	OnRotate token.RotationFunc

	// Limiter is shared by every provider built for the same user. A new
	// one is created when nil.
	Limiter *rate.Limiter

	// Endpoint and HTTPClient override the API base URL and the transport
	// underneath the OAuth layer.
	Endpoint   string
	HTTPClient *http.Client

	Logger *log.Entry
}

// Provider talks to Gmail on behalf of one user.
type Provider struct {
	svc     *gmailapi.Service
	limiter *rate.Limiter
	log     *log.Entry
}

var _ provider.Provider = (*Provider)(nil)

// New creates a provider. ctx scopes the token refresh machinery and the
// rotation callback, so it should outlive individual requests.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.OAuth == nil || cfg.Token == nil {
		return nil, &provider.CredentialError{
			Provider: model.ProviderGmail,
			Op:       "connect",
			Err:      errors.New("missing oauth token"),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithField("provider", model.ProviderGmail)

	base := http.DefaultTransport
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
	}

	src := token.NewPersistingSource(
		ctx,
		cfg.OAuth.TokenSource(ctx, cfg.Token),
		cfg.Token,
		cfg.OnRotate,
		logger,
	)
	client := &http.Client{Transport: &oauth2.Transport{Source: src, Base: base}}

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(DefaultQuotaPerSecond)
	}

	return &Provider{svc: svc, limiter: limiter, log: logger}, nil
}

func (p *Provider) Kind() model.ProviderKind { return model.ProviderGmail }

// wait reserves quota units for one call.
func (p *Provider) wait(ctx context.Context, op string, units int) error {
	if err := p.limiter.WaitN(ctx, units); err != nil {
		return &provider.TransientError{Provider: model.ProviderGmail, Op: op, Err: err}
	}
	return nil
}
