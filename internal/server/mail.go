package server

import (
	"encoding/base64"
	"mime"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

type listQuery struct {
	Limit  int    `query:"limit" validate:"omitempty,min=1"`
	Offset int    `query:"offset" validate:"omitempty,min=0"`
	Query  string `query:"q"`
}

func (q listQuery) options() provider.ListOptions {
	return provider.ListOptions{Limit: q.Limit, Offset: q.Offset, Query: q.Query}
}

func (s *HTTPServer) bindList(c echo.Context) (provider.ListOptions, error) {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return provider.ListOptions{}, badRequest("invalid paging parameters")
	}
	if err := c.Validate(q); err != nil {
		return provider.ListOptions{}, err
	}
	return q.options(), nil
}

func (s *HTTPServer) listMailboxes(c echo.Context) error {
	boxes, err := s.mail.ListMailboxes(c.Request().Context(), userID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, boxes)
}

func (s *HTTPServer) listEmails(c echo.Context) error {
	opts, err := s.bindList(c)
	if err != nil {
		return s.fail(c, err)
	}
	page, err := s.mail.ListEmails(c.Request().Context(), userID(c), c.Param("mailbox"), opts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

func (s *HTTPServer) getEmail(c echo.Context) error {
	email, err := s.mail.GetEmail(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, email)
}

func (s *HTTPServer) getAttachment(c echo.Context) error {
	att, err := s.mail.GetAttachment(c.Request().Context(), userID(c), c.Param("id"), c.Param("attachment"))
	if err != nil {
		return s.fail(c, err)
	}

	disposition := "attachment"
	if att.ContentID != "" {
		disposition = "inline"
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType(disposition, map[string]string{"filename": att.Name}))

	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, mimeType, att.Data)
}

type fileRequest struct {
	Name     string `json:"name" validate:"required"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data" validate:"required,base64"`
}

type sendRequest struct {
	To          []string      `json:"to" validate:"dive,email"`
	Cc          []string      `json:"cc" validate:"dive,email"`
	Bcc         []string      `json:"bcc" validate:"dive,email"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	IsHTML      bool          `json:"isHtml"`
	Attachments []fileRequest `json:"attachments" validate:"dive"`
}

func (r sendRequest) message() (model.OutgoingMessage, error) {
	msg := model.OutgoingMessage{
		To:      r.To,
		Cc:      r.Cc,
		Bcc:     r.Bcc,
		Subject: r.Subject,
		Body:    r.Body,
		IsHTML:  r.IsHTML,
	}
	for _, f := range r.Attachments {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return msg, badRequest("attachment " + f.Name + " is not valid base64")
		}
		msg.Files = append(msg.Files, model.OutgoingFile{Name: f.Name, MimeType: f.MimeType, Data: data})
	}
	return msg, nil
}

func (s *HTTPServer) send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("invalid message payload"))
	}
	if err := c.Validate(req); err != nil {
		return s.fail(c, err)
	}
	msg, err := req.message()
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.mail.Send(c.Request().Context(), userID(c), msg); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

type flagsRequest struct {
	Read    *bool `json:"read"`
	Starred *bool `json:"starred"`
}

func (s *HTTPServer) updateFlags(c echo.Context) error {
	var req flagsRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("invalid flags payload"))
	}
	if req.Read == nil && req.Starred == nil {
		return s.fail(c, badRequest("read or starred is required"))
	}

	ctx, user, id := c.Request().Context(), userID(c), c.Param("id")
	if req.Read != nil {
		if err := s.mail.MarkRead(ctx, user, id, *req.Read); err != nil {
			return s.fail(c, err)
		}
	}
	if req.Starred != nil {
		if err := s.mail.SetStarred(ctx, user, id, *req.Starred); err != nil {
			return s.fail(c, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) toggleStar(c echo.Context) error {
	starred, err := s.mail.ToggleStar(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"starred": starred})
}

func (s *HTTPServer) trash(c echo.Context) error {
	if err := s.mail.Trash(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) archive(c echo.Context) error {
	if err := s.mail.Archive(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) summarize(c echo.Context) error {
	text, err := s.mail.Summarize(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"summary": text})
}

type moveRequest struct {
	Column       string     `json:"column" validate:"required"`
	SnoozedUntil *time.Time `json:"snoozedUntil"`
}

func (s *HTTPServer) moveToColumn(c echo.Context) error {
	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, badRequest("invalid column payload"))
	}
	if err := c.Validate(req); err != nil {
		return s.fail(c, err)
	}
	column, err := model.ParseColumn(req.Column)
	if err != nil {
		return s.fail(c, badRequest(err.Error()))
	}
	st, err := s.mail.MoveToColumn(c.Request().Context(), userID(c), c.Param("id"), column, req.SnoozedUntil)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *HTTPServer) wake(c echo.Context) error {
	st, changed, err := s.mail.WakeNow(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": st, "changed": changed})
}

func (s *HTTPServer) listColumn(c echo.Context) error {
	column, err := model.ParseColumn(c.Param("column"))
	if err != nil {
		return s.fail(c, badRequest(err.Error()))
	}
	opts, err := s.bindList(c)
	if err != nil {
		return s.fail(c, err)
	}
	page, err := s.mail.ListByColumn(c.Request().Context(), userID(c), column, opts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, page)
}
