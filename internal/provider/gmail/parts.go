package gmail

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// partKind tags a decoded MIME part.
type partKind int

const (
	partMultipart partKind = iota
	partText
	partHTML
	partAttachment
	partInline
	partOther
)

// part is a Gmail payload node decoded once at the API boundary.
type part struct {
	kind     partKind
	id       string
	mimeType string
	filename string

	contentID string
	size      int64

	// blobID references bytes served by attachments.get.
	blobID string

	// data holds bytes delivered inline with the message.
	data []byte

	children []part
}

// decodePart converts the API payload tree into typed parts.
func decodePart(p *gmailapi.MessagePart) (part, error) {
	if p == nil {
		return part{kind: partOther}, nil
	}

	out := part{
		id:        p.PartId,
		mimeType:  strings.ToLower(p.MimeType),
		filename:  p.Filename,
		contentID: provider.NormalizeContentID(header(p.Headers, "Content-ID")),
	}
	if p.Body != nil {
		out.size = p.Body.Size
		out.blobID = p.Body.AttachmentId
		if p.Body.Data != "" {
			data, err := decodeBase64URL(p.Body.Data)
			if err != nil {
				return part{}, errors.Wrapf(err, "decoding body of part %q", p.PartId)
			}
			out.data = data
		}
	}

	switch {
	case strings.HasPrefix(out.mimeType, "multipart/"):
		out.kind = partMultipart
		for _, child := range p.Parts {
			c, err := decodePart(child)
			if err != nil {
				return part{}, err
			}
			out.children = append(out.children, c)
		}
	case out.filename == "" && out.blobID == "" && out.mimeType == "text/html":
		out.kind = partHTML
	case out.filename == "" && out.blobID == "" && out.mimeType == "text/plain":
		out.kind = partText
	case out.contentID != "":
		out.kind = partInline
	case out.filename != "" || out.blobID != "":
		out.kind = partAttachment
	default:
		out.kind = partOther
	}
	return out, nil
}

// content is what a message body boils down to.
type content struct {
	html        string
	text        string
	attachments []part
}

// collect walks the part tree depth-first, keeping the first HTML and the
// first plain text body and every attachment in document order.
func collect(p part, c *content) {
	switch p.kind {
	case partMultipart:
		for _, child := range p.children {
			collect(child, c)
		}
	case partHTML:
		if c.html == "" {
			c.html = string(p.data)
		}
	case partText:
		if c.text == "" {
			c.text = string(p.data)
		}
	case partAttachment, partInline:
		c.attachments = append(c.attachments, p)
	}
}

// body returns the preferred body: HTML over plain text.
func (c content) body() (string, bool) {
	if c.html != "" {
		return c.html, true
	}
	return c.text, false
}

func (p part) attachment() model.Attachment {
	name := p.filename
	if name == "" {
		name = "attachment-" + p.id
	}
	size := p.size
	if size == 0 {
		size = int64(len(p.data))
	}
	return model.Attachment{
		ID:        p.id,
		Name:      name,
		Size:      size,
		MimeType:  p.mimeType,
		ContentID: p.contentID,
	}
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodeBase64URL accepts Gmail's base64url data with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
