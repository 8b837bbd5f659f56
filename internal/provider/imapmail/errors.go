package imapmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

func transient(op string, err error) error {
	return &provider.TransientError{Provider: model.ProviderIMAP, Op: op, Err: err}
}

func permanent(op string, err error) error {
	return &provider.PermanentError{Provider: model.ProviderIMAP, Op: op, Err: err}
}

func notFound(op, what string) error {
	return permanent(op, fmt.Errorf("%s: %w", what, provider.ErrNotFound))
}

// classify maps a failed IMAP command onto the provider error taxonomy.
// A server NO/BAD response is permanent; anything that breaks the
// connection is transient.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if provider.IsCredentialError(err) || provider.IsTransientError(err) ||
		provider.IsPermanentError(err) || provider.IsEncodingError(err) {
		return err
	}
	if ctx.Err() != nil {
		return transient(op, ctx.Err())
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeNonExistent:
			return permanent(op, fmt.Errorf("%v: %w", err, provider.ErrNotFound))
		case imap.ResponseCodeAuthenticationFailed, imap.ResponseCodeAuthorizationFailed:
			return &provider.CredentialError{Provider: model.ProviderIMAP, Op: op, Err: err}
		case imap.ResponseCodeUnavailable, imap.ResponseCodeLimit:
			return transient(op, err)
		}
		return permanent(op, err)
	}

	// Dropped connections and protocol failures.
	return transient(op, err)
}

func errUnknownFlag(flag provider.Flag) error {
	return fmt.Errorf("unknown flag %q", flag)
}

var errNoWatchers = errors.New("push watching is not enabled")
