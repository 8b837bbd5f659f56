package mailsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/provider/imapmail"
	"github.com/nhle/mailsync/internal/token"
)

// IMAPSettings is what a user supplies to connect a protocol-backed
// mailbox.
type IMAPSettings struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	SMTPHost string `json:"smtpHost" validate:"omitempty,hostname|ip"`
	SMTPPort int    `json:"smtpPort" validate:"omitempty,min=1,max=65535"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`

	// Address defaults to Username.
	Address string `json:"address" validate:"omitempty,email"`

	// Security forces the connection mode; empty derives it from the
	// port.
	Security imapmail.Security `json:"security" validate:"omitempty,oneof=tls starttls none"`
}

// StartWatch arms push notifications for the user's inbox.
func (s *Service) StartWatch(ctx context.Context, userID string) (*model.WatchState, error) {
	var state *model.WatchState
	err := s.run(ctx, userID, "start watch", func(ctx context.Context, b *binding) error {
		var err error
		state, err = b.StartWatch(ctx, s.cfg.PubSubTopic)
		return err
	})
	return state, err
}

// StopWatch disarms push notifications.
func (s *Service) StopWatch(ctx context.Context, userID string) error {
	return s.run(ctx, userID, "stop watch", func(ctx context.Context, b *binding) error {
		return b.StopWatch(ctx)
	})
}

// ValidateCredential checks the stored credential against the backend
// and returns the mailbox address.
func (s *Service) ValidateCredential(ctx context.Context, userID string) (string, error) {
	var address string
	err := s.run(ctx, userID, "validate credential", func(ctx context.Context, b *binding) error {
		var err error
		address, err = b.ValidateCredential(ctx)
		return err
	})
	return address, err
}

// ConnectIMAP verifies IMAP settings by logging in, then stores them with
// the password encrypted. An empty userID creates a new user.
func (s *Service) ConnectIMAP(ctx context.Context, userID string, in IMAPSettings) (*model.Credential, error) {
	if userID == "" {
		userID = uuid.NewString()
	}
	address := strings.ToLower(strings.TrimSpace(in.Address))
	if address == "" {
		address = strings.ToLower(in.Username)
	}

	stored := &model.IMAPAccount{
		Host:     in.Host,
		Port:     in.Port,
		SMTPHost: in.SMTPHost,
		SMTPPort: in.SMTPPort,
		Username: in.Username,
		Security: string(in.Security),
	}
	acct := imapmail.AccountFromModel(stored, in.Password, address)

	vctx, cancel := s.bounded(ctx)
	defer cancel()
	if _, err := imapmail.New(acct, nil, userID, s.log).ValidateCredential(vctx); err != nil {
		return nil, err
	}

	enc, err := s.deps.Cipher.Encrypt(in.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypting imap password: %w", err)
	}
	stored.Port = acct.Port
	stored.SMTPHost = acct.SMTPHost
	stored.SMTPPort = acct.SMTPPort
	stored.EncryptedPassword = enc

	cred := model.Credential{
		UserID:    userID,
		Email:     address,
		Kind:      model.ProviderIMAP,
		IMAP:      stored,
		UpdatedAt: s.now().UTC(),
	}
	if err := s.deps.Vault.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing imap credential: %w", err)
	}
	s.log.WithFields(log.Fields{
		"user_id":  userID,
		"provider": model.ProviderIMAP,
	}).Info("connected imap mailbox")
	return &cred, nil
}

func errOAuthNotConfigured(op string) error {
	return &provider.CredentialError{
		Provider: model.ProviderGmail,
		Op:       op,
		Err:      errors.New("google oauth client is not configured"),
	}
}

// GmailAuthURL returns the consent page URL for connecting Gmail.
func (s *Service) GmailAuthURL(state string) (string, error) {
	if s.cfg.OAuth == nil {
		return "", errOAuthNotConfigured("auth url")
	}
	return s.cfg.OAuth.AuthCodeURL(state), nil
}

// ConnectGmail exchanges an authorization code, verifies the token by
// reading the profile and stores it. An empty userID creates a new user.
func (s *Service) ConnectGmail(ctx context.Context, userID, code string) (*model.Credential, error) {
	if s.cfg.OAuth == nil {
		return nil, errOAuthNotConfigured("exchange code")
	}
	if userID == "" {
		userID = uuid.NewString()
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	tok, err := s.cfg.OAuth.Exchange(s.oauthContext(ctx), code)
	if err != nil {
		return nil, &provider.CredentialError{Provider: model.ProviderGmail, Op: "exchange code", Err: err}
	}

	cred := model.Credential{
		UserID: userID,
		Kind:   model.ProviderGmail,
		OAuth:  token.ToModel(tok),
	}
	p, err := s.gmailProvider(&cred, s.log.WithField("user_id", userID))
	if err != nil {
		return nil, err
	}
	address, err := p.ValidateCredential(ctx)
	if err != nil {
		return nil, err
	}

	cred.Email = strings.ToLower(address)
	cred.UpdatedAt = s.now().UTC()
	if err := s.deps.Vault.Update(ctx, cred); err != nil {
		return nil, fmt.Errorf("storing gmail credential: %w", err)
	}
	s.log.WithFields(log.Fields{
		"user_id":  userID,
		"provider": model.ProviderGmail,
	}).Info("connected gmail mailbox")
	return &cred, nil
}

func (s *Service) oauthContext(ctx context.Context) context.Context {
	if s.cfg.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	}
	return ctx
}

// Logout stops watching, revokes OAuth tokens upstream and forgets the
// credential. Failures to stop or revoke are logged; the credential is
// always cleared.
func (s *Service) Logout(ctx context.Context, userID string) error {
	cred, err := s.lookup(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	logger := s.log.WithFields(log.Fields{"user_id": userID, "provider": cred.Kind})

	if err := s.StopWatch(ctx, userID); err != nil {
		logger.WithError(err).Warn("stopping watch on logout failed")
	}

	if cred.Kind == model.ProviderGmail && cred.OAuth != nil {
		tok := cred.OAuth.RefreshToken
		if tok == "" {
			tok = cred.OAuth.AccessToken
		}
		rctx, cancel := s.bounded(ctx)
		err := token.Revoke(rctx, s.cfg.HTTPClient, s.cfg.RevokeURL, tok)
		cancel()
		if err != nil {
			logger.WithError(err).Warn("revoking oauth token failed")
		}
	}

	if err := s.deps.Vault.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clearing credential for %s: %w", userID, err)
	}
	s.dropLimiter(userID)
	logger.Info("logged out")
	return nil
}
