package provider

import (
	"errors"
	"fmt"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound reports a message, attachment or folder that does not
// exist. It is wrapped in a PermanentError.
var ErrNotFound = errors.New("not found")

// CredentialError indicates that the stored credential is missing,
// expired or rejected. Callers should prompt the user to reconnect.
type CredentialError struct {
	Provider model.ProviderKind
	Op       string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error (%s %s): %v", e.Provider, e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// TransientError is a network or rate-limit failure. It is never retried
// inside the core; the caller may retry.
type TransientError struct {
	Provider model.ProviderKind
	Op       string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error (%s %s): %v", e.Provider, e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that will not succeed on retry, such as a
// missing message or insufficient permission.
type PermanentError struct {
	Provider model.ProviderKind
	Op       string
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("provider error (%s %s): %v", e.Provider, e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// EncodingError reports a malformed message identifier. It is returned
// before any network call is made.
type EncodingError struct {
	ID  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("malformed message id %q: %v", e.ID, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// IsCredentialError reports whether err (or any error in its chain) is a
// CredentialError.
func IsCredentialError(err error) bool {
	var target *CredentialError
	return errors.As(err, &target)
}

// IsTransientError reports whether err is a TransientError.
func IsTransientError(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// IsPermanentError reports whether err is a PermanentError.
func IsPermanentError(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}

// IsEncodingError reports whether err is an EncodingError.
func IsEncodingError(err error) bool {
	var target *EncodingError
	return errors.As(err, &target)
}

// IsNotFound reports whether err reports a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserMessage returns the text shown to users for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCredentialError(err):
		return "Please reconnect your account."
	case IsNotFound(err), IsEncodingError(err):
		return "Message unavailable."
	case IsTransientError(err):
		return "The mail server is temporarily unavailable. Please try again."
	default:
		return "Something went wrong."
	}
}
