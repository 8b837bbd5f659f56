// Package mailsync is the entry point for every mailbox operation. It
// resolves which backend serves a user, binds that user's credential to a
// provider for the duration of one call and merges the Kanban overlay
// into what the provider returns.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/kanban"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/provider/gmail"
	"github.com/nhle/mailsync/internal/provider/imapmail"
	"github.com/nhle/mailsync/internal/stub"
	"github.com/nhle/mailsync/internal/token"
)

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 30 * time.Second

// Cipher protects protocol-backend passwords at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Summarizer produces a short digest of plain text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Config carries the settings the facade needs from the application
// configuration.
type Config struct {
	// OAuth is the Google OAuth client. Gmail credentials cannot be used
	// without it.
	OAuth *oauth2.Config

	// GmailEndpoint and HTTPClient override the Gmail API base URL and
	// transport; both are meant for tests.
	GmailEndpoint string
	HTTPClient    *http.Client

	QuotaPerSecond float64
	PubSubTopic    string

	// RevokeURL is the OAuth revocation endpoint used on logout.
	RevokeURL string

	// PublicBaseURL prefixes attachment URLs written into HTML bodies.
	PublicBaseURL string

	ProviderTimeout time.Duration
}

// Deps are the collaborators of a Service. Vault, Cipher, Stub and
// Overlay are required.
type Deps struct {
	Vault      credential.Vault
	Cipher     Cipher
	Stub       *stub.Store
	Overlay    *kanban.Overlay
	Watchers   *imapmail.Watchers
	Summarizer Summarizer
	Notifier   kanban.Notifier
}

// Service implements the exposed mailbox, account and Kanban operations.
type Service struct {
	cfg  Config
	deps Deps

	// ctx outlives requests; it scopes token refreshes and their
	// persistence callbacks.
	ctx context.Context

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	now func() time.Time
	log *log.Entry
}

// New creates the facade.
func New(ctx context.Context, cfg Config, deps Deps, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = token.GoogleRevokeURL
	}
	return &Service{
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
		log:      logger.WithField("component", "mailsync"),
	}
}

// binding is a provider bound to one user's credential for one call.
type binding struct {
	provider.Provider
	userID string

	// cred is nil for users served by the stub store.
	cred *model.Credential
}

// durable reports whether overlay entries for this user's mail must be
// persisted. Only stub mail has no provider to fall back on.
func (b *binding) durable() bool {
	return b.Kind() == model.ProviderStub
}

// lookup returns the stored credential, or nil when the user has none.
func (s *Service) lookup(ctx context.Context, userID string) (*model.Credential, error) {
	cred, err := s.deps.Vault.FindByUser(ctx, userID)
	if errors.Is(err, credential.ErrNoCredential) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential for %s: %w", userID, err)
	}
	return cred, nil
}

// bind resolves the provider serving userID. A user without a stored
// credential is served by the stub store.
func (s *Service) bind(ctx context.Context, userID string) (*binding, error) {
	if userID == "" {
		return nil, &provider.CredentialError{
			Provider: model.ProviderStub,
			Op:       "resolve provider",
			Err:      errors.New("missing user identity"),
		}
	}
	cred, err := s.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &binding{Provider: stub.NewProvider(s.deps.Stub, userID, ""), userID: userID}, nil
	}

	logger := s.log.WithField("user_id", userID)
	switch cred.Kind {
	case model.ProviderGmail:
		p, err := s.gmailProvider(cred, logger)
		if err != nil {
			return nil, err
		}
		return &binding{Provider: p, userID: userID, cred: cred}, nil

	case model.ProviderIMAP:
		acct, err := s.imapAccount(cred)
		if err != nil {
			return nil, err
		}
		p := imapmail.New(acct, s.deps.Watchers, userID, logger)
		return &binding{Provider: p, userID: userID, cred: cred}, nil

	case model.ProviderStub:
		p := stub.NewProvider(s.deps.Stub, userID, cred.Email)
		return &binding{Provider: p, userID: userID, cred: cred}, nil

	default:
		return nil, &provider.PermanentError{
			Provider: cred.Kind,
			Op:       "resolve provider",
			Err:      fmt.Errorf("unsupported provider kind %q", cred.Kind),
		}
	}
}

func (s *Service) gmailProvider(cred *model.Credential, logger *log.Entry) (*gmail.Provider, error) {
	if s.cfg.OAuth == nil {
		return nil, errOAuthNotConfigured("resolve provider")
	}
	return gmail.New(s.ctx, gmail.Config{
		OAuth:      s.cfg.OAuth,
		Token:      token.FromModel(cred.OAuth),
		OnRotate:   s.persistRotation(*cred),
		Limiter:    s.limiter(cred.UserID),
		Endpoint:   s.cfg.GmailEndpoint,
		HTTPClient: s.cfg.HTTPClient,
		Logger:     logger,
	})
}

// persistRotation returns the callback that stores a silently refreshed
// token pair in place of the one the provider was built with.
func (s *Service) persistRotation(cred model.Credential) token.RotationFunc {
	return func(ctx context.Context, tok *oauth2.Token) error {
		cred.OAuth = token.ToModel(tok)
		cred.UpdatedAt = s.now().UTC()
		if err := s.deps.Vault.Update(ctx, cred); err != nil {
			return fmt.Errorf("storing rotated token for %s: %w", cred.UserID, err)
		}
		s.log.WithFields(log.Fields{
			"user_id":  cred.UserID,
			"provider": model.ProviderGmail,
		}).Debug("persisted rotated oauth token")
		return nil
	}
}

func (s *Service) imapAccount(cred *model.Credential) (imapmail.Account, error) {
	if cred.IMAP == nil {
		return imapmail.Account{}, &provider.CredentialError{
			Provider: model.ProviderIMAP,
			Op:       "resolve provider",
			Err:      errors.New("missing imap settings"),
		}
	}
	password, err := s.deps.Cipher.Decrypt(cred.IMAP.EncryptedPassword)
	if err != nil {
		return imapmail.Account{}, &provider.CredentialError{
			Provider: model.ProviderIMAP,
			Op:       "decrypt password",
			Err:      err,
		}
	}
	return imapmail.AccountFromModel(cred.IMAP, password, cred.Email), nil
}

// limiter returns the quota limiter shared by every Gmail call of a user.
func (s *Service) limiter(userID string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	l, ok := s.limiters[userID]
	if !ok {
		l = gmail.NewLimiter(s.cfg.QuotaPerSecond)
		s.limiters[userID] = l
	}
	return l
}

func (s *Service) dropLimiter(userID string) {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	delete(s.limiters, userID)
}

// bounded derives the deadline applied to every provider call.
func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
}

// logFailure records a failed operation with enough context to trace it.
func (s *Service) logFailure(b *binding, op string, err error) {
	entry := s.log.WithFields(log.Fields{
		"user_id":  b.userID,
		"provider": b.Kind(),
		"op":       op,
	}).WithError(err)
	if provider.IsTransientError(err) {
		entry.Warn("provider call failed")
		return
	}
	entry.Info("provider call failed")
}
