package gmail

import (
	"context"
	"net"
	"net/http"
	"regexp"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// idPattern matches Gmail message, label and part identifiers.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// checkID rejects identifiers that can never name a Gmail resource.
func checkID(id string) error {
	if !idPattern.MatchString(id) {
		return &provider.EncodingError{ID: id, Err: errors.New("not a gmail identifier")}
	}
	return nil
}

// classify maps a Gmail client failure onto the provider error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return credentialError(op, err)
	}

	if apiErr, ok := errors.Cause(err).(*googleapi.Error); ok {
		return classifyAPIError(op, apiErr)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPIError(op, apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &provider.TransientError{Provider: model.ProviderGmail, Op: op, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &provider.TransientError{Provider: model.ProviderGmail, Op: op, Err: err}
	}
	return &provider.PermanentError{Provider: model.ProviderGmail, Op: op, Err: err}
}

func classifyAPIError(op string, apiErr *googleapi.Error) error {
	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return credentialError(op, apiErr)
	case apiErr.Code == http.StatusNotFound:
		return &provider.PermanentError{
			Provider: model.ProviderGmail,
			Op:       op,
			Err:      errors.Wrap(provider.ErrNotFound, apiErr.Message),
		}
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return &provider.TransientError{Provider: model.ProviderGmail, Op: op, Err: apiErr}
	case apiErr.Code == http.StatusForbidden && isRateLimit(apiErr):
		return &provider.TransientError{Provider: model.ProviderGmail, Op: op, Err: apiErr}
	default:
		return &provider.PermanentError{Provider: model.ProviderGmail, Op: op, Err: apiErr}
	}
}

func isRateLimit(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}

func credentialError(op string, err error) error {
	return &provider.CredentialError{Provider: model.ProviderGmail, Op: op, Err: err}
}

var errNoTopic = errors.New("no pub/sub topic configured")

func errUnknownFlag(flag provider.Flag) error {
	return errors.Errorf("unknown flag %q", flag)
}
