package imapmail

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// parsedBody is the decoded content of one RFC 5322 message.
type parsedBody struct {
	text        string
	html        string
	attachments []model.Attachment
	blobs       [][]byte
}

// parseMIMEBody walks every leaf part of raw. Text parts without a
// filename become the body; other parts become attachments whose ID is
// their ordinal position in the message.
func parseMIMEBody(raw []byte) parsedBody {
	var out parsedBody

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME; treat the whole thing as plain text.
		out.text = string(raw)
		return out
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			contentID := provider.NormalizeContentID(h.Get("Content-Id"))
			name := params["name"]

			switch {
			case contentType == "text/html" && name == "" && contentID == "":
				if out.html == "" {
					out.html = string(body)
				}
			case strings.HasPrefix(contentType, "text/") && name == "" && contentID == "":
				if out.text == "" {
					out.text = string(body)
				}
			default:
				out.add(name, contentType, contentID, body)
			}

		case *mail.AttachmentHeader:
			contentType, params, _ := h.ContentType()
			filename, _ := h.Filename()
			if filename == "" {
				filename = params["name"]
			}
			contentID := provider.NormalizeContentID(h.Get("Content-Id"))
			out.add(filename, contentType, contentID, body)
		}
	}
	return out
}

func (b *parsedBody) add(name, contentType, contentID string, data []byte) {
	id := strconv.Itoa(len(b.attachments))
	if name == "" {
		name = "attachment-" + id
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.attachments = append(b.attachments, model.Attachment{
		ID:        id,
		Name:      name,
		Size:      int64(len(data)),
		MimeType:  contentType,
		ContentID: contentID,
	})
	b.blobs = append(b.blobs, data)
}

// body returns the preferred body: HTML over plain text.
func (b parsedBody) body() (string, bool) {
	if b.html != "" {
		return b.html, true
	}
	return b.text, false
}
