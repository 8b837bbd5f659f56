package imapmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// Send submits a message over SMTP. Bcc recipients only appear in the
// envelope, never in the document.
func (p *Provider) Send(ctx context.Context, msg model.OutgoingMessage) error {
	const op = "send"
	if msg.From == "" {
		msg.From = p.acct.address()
	}
	raw, err := provider.ComposeMIME(msg, false)
	if err != nil {
		return permanent(op, err)
	}

	_, from := provider.SplitAddress(msg.From)
	var rcpt []string
	for _, r := range msg.Recipients() {
		_, addr := provider.SplitAddress(r)
		rcpt = append(rcpt, addr)
	}

	c, err := p.dialSMTP()
	if err != nil {
		return transient(op, fmt.Errorf("connecting to SMTP %s: %w", p.acct.smtpAddr(), err))
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer func() {
		stop()
		_ = c.Close()
	}()

	if p.acct.Password != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.acct.Username, p.acct.Password)); err != nil {
			return smtpError(ctx, op, err)
		}
	}
	if err := c.SendMail(from, rcpt, bytes.NewReader(raw)); err != nil {
		return smtpError(ctx, op, err)
	}
	if err := c.Quit(); err != nil {
		p.log.WithError(err).Debug("smtp quit")
	}
	return nil
}

func (p *Provider) dialSMTP() (*smtp.Client, error) {
	addr := p.acct.smtpAddr()
	switch p.acct.SMTPSecurity {
	case SecurityTLS:
		return smtp.DialTLS(addr, p.acct.tlsConfig(p.acct.SMTPHost))
	case SecurityNone:
		return smtp.Dial(addr)
	default:
		return smtp.DialStartTLS(addr, p.acct.tlsConfig(p.acct.SMTPHost))
	}
}

// smtpError classifies SMTP failures: 535 is a credential problem, other
// 5xx replies are permanent, 4xx and connection failures are transient.
func smtpError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return transient(op, ctx.Err())
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch {
		case smtpErr.Code == 535:
			return &provider.CredentialError{Provider: model.ProviderIMAP, Op: op, Err: err}
		case smtpErr.Code >= 500:
			return permanent(op, err)
		}
	}
	return transient(op, err)
}
