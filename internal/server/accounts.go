package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nhle/mailsync/internal/mailsync"
)

func (s *HTTPServer) startWatch(c echo.Context) error {
	state, err := s.mail.StartWatch(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *HTTPServer) stopWatch(c echo.Context) error {
	if err := s.mail.StopWatch(c.Request().Context(), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) validateAccount(c echo.Context) error {
	address, err := s.mail.ValidateCredential(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"email": address})
}

func (s *HTTPServer) connectIMAP(c echo.Context) error {
	var req mailsync.IMAPSettings
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("invalid account payload"))
	}
	if err := c.Validate(req); err != nil {
		return s.fail(c, err)
	}
	cred, err := s.mail.ConnectIMAP(c.Request().Context(), userID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	s.refreshWatch(cred.UserID)
	return c.JSON(http.StatusCreated, cred)
}

func (s *HTTPServer) gmailAuthURL(c echo.Context) error {
	state := c.QueryParam("state")
	if state == "" {
		state = uuid.NewString()
	}
	url, err := s.mail.GmailAuthURL(state)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"url": url, "state": state})
}

type gmailConnectRequest struct {
	Code string `json:"code" validate:"required"`
}

func (s *HTTPServer) connectGmail(c echo.Context) error {
	var req gmailConnectRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("invalid authorization payload"))
	}
	if err := c.Validate(req); err != nil {
		return s.fail(c, err)
	}
	cred, err := s.mail.ConnectGmail(c.Request().Context(), userID(c), req.Code)
	if err != nil {
		return s.fail(c, err)
	}
	s.refreshWatch(cred.UserID)
	return c.JSON(http.StatusCreated, cred)
}

func (s *HTTPServer) logout(c echo.Context) error {
	if err := s.mail.Logout(c.Request().Context(), userID(c)); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) refreshWatch(userID string) {
	if s.watches != nil {
		s.watches.Refresh(userID)
	}
}
