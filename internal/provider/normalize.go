package provider

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsync/internal/model"
)

// PreviewLength is the maximum number of characters in a preview.
const PreviewLength = 200

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// invisibleBlockPattern matches elements whose content is never shown.
var invisibleBlockPattern = regexp.MustCompile(`(?is)<(style|script|head)[^>]*>.*?</(style|script|head)>`)

// whitespacePattern matches runs of whitespace.
var whitespacePattern = regexp.MustCompile(`\s+`)

// StripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func StripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := invisibleBlockPattern.ReplaceAllString(html, "")
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>", "</tr>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}

// Preview produces the short listing text for a body: markup stripped,
// whitespace collapsed and truncated to PreviewLength characters with an
// ellipsis.
func Preview(body string, isHTML bool) string {
	text := body
	if isHTML {
		text = StripHTML(body)
	}
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))

	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLength]) + "..."
}

// mailboxPriority orders standard labels when a message carries several.
var mailboxPriority = []string{
	model.MailboxInbox,
	model.MailboxSent,
	model.MailboxDraft,
	model.MailboxSpam,
	model.MailboxTrash,
}

// ResolveMailbox picks the mailbox a multi-labelled message is shown in:
// INBOX, SENT, DRAFT, SPAM, TRASH in that order, else the first label,
// else INBOX.
func ResolveMailbox(labels []string) string {
	for _, want := range mailboxPriority {
		for _, l := range labels {
			if l == want {
				return want
			}
		}
	}
	if len(labels) > 0 {
		return labels[0]
	}
	return model.MailboxInbox
}

// cidPattern matches cid: references inside src/href attributes.
var cidPattern = regexp.MustCompile(`(?i)cid:([^"'\s>)]+)`)

// RewriteInlineImages replaces cid: URLs in an HTML body with download
// URLs under baseURL. Only content IDs that belong to one of the given
// attachments are rewritten; unknown references are left untouched.
func RewriteInlineImages(
	html string,
	emailID string,
	attachments []model.Attachment,
	baseURL string,
) string {
	if html == "" || len(attachments) == 0 {
		return html
	}

	byCID := make(map[string]string, len(attachments))
	for _, att := range attachments {
		if att.ContentID == "" {
			continue
		}
		byCID[contentIDKey(att.ContentID)] = att.ID
	}
	if len(byCID) == 0 {
		return html
	}

	base := strings.TrimRight(baseURL, "/")
	return cidPattern.ReplaceAllStringFunc(html, func(match string) string {
		cid := contentIDKey(match[len("cid:"):])
		attID, ok := byCID[cid]
		if !ok {
			return match
		}
		return base + "/emails/" + url.PathEscape(emailID) +
			"/attachments/" + url.PathEscape(attID)
	})
}

// NormalizeContentID strips whitespace and angle brackets from a
// Content-ID header. Case is kept; RewriteInlineImages matches content IDs
// case-insensitively.
func NormalizeContentID(cid string) string {
	return strings.Trim(strings.TrimSpace(cid), "<>")
}

func contentIDKey(cid string) string {
	return strings.ToLower(NormalizeContentID(cid))
}

// SplitAddress parses an RFC 5322 address into its display name and
// address. Unparseable input is returned as the address.
func SplitAddress(raw string) (name, addr string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", raw
	}
	return parsed.Name, parsed.Address
}

// SplitAddressList parses a comma-separated address header into bare
// addresses.
func SplitAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	list, err := mail.ParseAddressList(raw)
	if err != nil {
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}
