// Package imapmail implements the mail provider contract over IMAP for
// reading and SMTP for sending.
package imapmail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// Security selects how a connection is protected.
type Security string

const (
	SecurityTLS      Security = "tls"
	SecurityStartTLS Security = "starttls"

	// SecurityNone is only meant for local test servers.
	SecurityNone Security = "none"
)

// dialTimeout bounds connection setup when the caller has no deadline.
const dialTimeout = 30 * time.Second

// Account holds decrypted connection settings for one mailbox.
type Account struct {
	Host     string
	Port     int
	Security Security

	SMTPHost     string
	SMTPPort     int
	SMTPSecurity Security

	Username string
	Password string

	// Address is the mailbox address; Username is used when empty.
	Address string

	// TLSConfig overrides the default TLS settings, mainly for tests.
	TLSConfig *tls.Config
}

// AccountFromModel builds an Account from stored settings and the
// decrypted password. Unless the account names a security mode, port 993
// and 465 imply implicit TLS.
func AccountFromModel(acct *model.IMAPAccount, password, address string) Account {
	a := Account{
		Host:     acct.Host,
		Port:     acct.Port,
		SMTPHost: acct.SMTPHost,
		SMTPPort: acct.SMTPPort,
		Username: acct.Username,
		Password: password,
		Address:  address,
	}
	a.Security = SecurityStartTLS
	if a.Port == 0 || a.Port == 993 {
		a.Port = 993
		a.Security = SecurityTLS
	}
	if a.SMTPHost == "" {
		a.SMTPHost = a.Host
	}
	a.SMTPSecurity = SecurityStartTLS
	if a.SMTPPort == 0 {
		a.SMTPPort = 587
	}
	if a.SMTPPort == 465 {
		a.SMTPSecurity = SecurityTLS
	}
	switch sec := Security(acct.Security); sec {
	case SecurityTLS, SecurityStartTLS:
		a.Security = sec
	case SecurityNone:
		a.Security = SecurityNone
		a.SMTPSecurity = SecurityNone
	}
	return a
}

func (a Account) address() string {
	if a.Address != "" {
		return a.Address
	}
	return a.Username
}

func (a Account) imapAddr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Account) smtpAddr() string {
	return net.JoinHostPort(a.SMTPHost, strconv.Itoa(a.SMTPPort))
}

func (a Account) tlsConfig(host string) *tls.Config {
	if a.TLSConfig != nil {
		return a.TLSConfig.Clone()
	}
	return &tls.Config{ServerName: host}
}

// session is one authenticated connection bound to a context: it is
// closed as soon as the context is done so a stuck server cannot hold the
// caller.
type session struct {
	*imapclient.Client
	stop func() bool
}

// connect dials, authenticates and ties the connection to ctx.
func connect(ctx context.Context, acct Account, opts *imapclient.Options) (*session, error) {
	if opts == nil {
		opts = &imapclient.Options{}
	}
	if opts.TLSConfig == nil {
		opts.TLSConfig = acct.tlsConfig(acct.Host)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", acct.imapAddr())
	if err != nil {
		return nil, transient("connect", fmt.Errorf("connecting to IMAP %s: %w", acct.imapAddr(), err))
	}

	var c *imapclient.Client
	switch acct.Security {
	case SecurityNone:
		c = imapclient.New(conn, opts)
	case SecurityStartTLS:
		c, err = imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, transient("connect", fmt.Errorf("starting TLS: %w", err))
		}
	default:
		c = imapclient.New(tls.Client(conn, opts.TLSConfig), opts)
	}

	s := &session{Client: c}
	s.stop = context.AfterFunc(ctx, func() { _ = c.Close() })

	if err := c.Login(acct.Username, acct.Password).Wait(); err != nil {
		s.close()
		if ctx.Err() != nil {
			return nil, transient("login", ctx.Err())
		}
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &provider.CredentialError{
				Provider: model.ProviderIMAP,
				Op:       "login",
				Err:      fmt.Errorf("authentication failed for %s, check the password: %w", acct.Username, err),
			}
		}
		return nil, transient("login", err)
	}
	return s, nil
}

// close logs out and releases the connection.
func (s *session) close() {
	s.stop()
	_ = s.Logout().Wait()
	_ = s.Close()
}

// Provider serves one IMAP account.
type Provider struct {
	acct     Account
	watchers *Watchers
	watchKey string
	log      *log.Entry
}

// New binds a provider to an account. watchers may be nil when push
// watching is not needed; watchKey identifies the account in it.
func New(acct Account, watchers *Watchers, watchKey string, logger *log.Entry) *Provider {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Provider{
		acct:     acct,
		watchers: watchers,
		watchKey: watchKey,
		log:      logger.WithField("provider", model.ProviderIMAP),
	}
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Kind() model.ProviderKind { return model.ProviderIMAP }

// ValidateCredential logs in and selects INBOX.
func (p *Provider) ValidateCredential(ctx context.Context) (string, error) {
	s, err := connect(ctx, p.acct, nil)
	if err != nil {
		return "", err
	}
	defer s.close()

	if _, err := s.Select("INBOX", nil).Wait(); err != nil {
		return "", classify(ctx, "validate credential", err)
	}
	return p.acct.address(), nil
}
