package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nhle/mailsync/internal/kanban"
	"github.com/nhle/mailsync/internal/provider"
)

type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks request errors caught before reaching the facade.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

// statusFor maps a facade error to an HTTP status.
func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, errBadRequest), errors.As(err, &verr), errors.Is(err, kanban.ErrDeadlineRequired):
		return http.StatusBadRequest
	case provider.IsCredentialError(err):
		return http.StatusUnauthorized
	case provider.IsEncodingError(err):
		return http.StatusBadRequest
	case provider.IsNotFound(err):
		return http.StatusNotFound
	case provider.IsTransientError(err):
		return http.StatusServiceUnavailable
	case provider.IsPermanentError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Request errors echo their own
// message; facade errors are replaced by the user-facing text.
func (s *HTTPServer) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := provider.UserMessage(err)
	if status == http.StatusBadRequest && !provider.IsEncodingError(err) {
		msg = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("uri", c.Request().RequestURI).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: msg})
}
