package provider

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// ComposeMIME renders an outgoing message as an RFC 5322 document. Bcc
// is only written as a header when includeBcc is set, for backends that
// take recipients from the headers and strip Bcc themselves.
func ComposeMIME(msg model.OutgoingMessage, includeBcc bool) ([]byte, error) {
	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		return nil, fmt.Errorf("composing message: no recipients")
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(msg.Subject)

	from, err := parseAddresses([]string{msg.From})
	if err != nil {
		return nil, fmt.Errorf("composing message: from: %w", err)
	}
	h.SetAddressList("From", from)

	headers := []struct {
		key   string
		addrs []string
		write bool
	}{
		{"To", msg.To, true},
		{"Cc", msg.Cc, true},
		{"Bcc", msg.Bcc, includeBcc},
	}
	for _, hdr := range headers {
		if !hdr.write || len(hdr.addrs) == 0 {
			continue
		}
		list, err := parseAddresses(hdr.addrs)
		if err != nil {
			return nil, fmt.Errorf("composing message: %s: %w", hdr.key, err)
		}
		h.SetAddressList(hdr.key, list)
	}

	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	contentType := "text/plain"
	if msg.IsHTML {
		contentType = "text/html"
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline part: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("creating body part: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline part: %w", err)
	}

	for _, f := range msg.Files {
		var ah mail.AttachmentHeader
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		ah.SetContentType(mimeType, nil)
		ah.SetFilename(f.Name)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %s: %w", f.Name, err)
		}
		if _, err := aw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", f.Name, err)
		}
		if err := aw.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %s: %w", f.Name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}

	return buf.Bytes(), nil
}

// parseAddresses parses each entry as a single RFC 5322 address.
func parseAddresses(raw []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", r, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
