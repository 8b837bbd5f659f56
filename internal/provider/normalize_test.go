package provider

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
)

func TestPreview_StripsCollapsesAndTruncates(t *testing.T) {
	html := "<html><head><style>p{}</style></head><body><p>Hello&nbsp;<b>world</b></p>\n\n\n<p>again</p></body></html>"
	assert.Equal(t, "Hello world again", Preview(html, true))

	long := strings.Repeat("ab ", 150)
	got := Preview(long, false)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, PreviewLength+3, len([]rune(got)))
}

func TestPreview_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("đ", PreviewLength)
	assert.Equal(t, text, Preview(text, false))
}

func TestResolveMailbox(t *testing.T) {
	cases := []struct {
		labels []string
		want   string
	}{
		{[]string{"UNREAD", "SENT", "INBOX"}, model.MailboxInbox},
		{[]string{"TRASH", "DRAFT"}, model.MailboxDraft},
		{[]string{"SPAM", "TRASH"}, model.MailboxSpam},
		{[]string{"Label_12", "CATEGORY_SOCIAL"}, "Label_12"},
		{nil, model.MailboxInbox},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveMailbox(tc.labels), "labels %v", tc.labels)
	}
}

func TestRewriteInlineImages(t *testing.T) {
	atts := []model.Attachment{
		{ID: "2", Name: "logo.png", ContentID: "<Logo@mail>"},
		{ID: "3", Name: "report.pdf"},
	}
	html := `<img src="cid:logo@mail"><img src="cid:missing@mail">`

	got := RewriteInlineImages(html, "abc=", atts, "https://mail.example.com/api/v1/")

	assert.Equal(t,
		`<img src="https://mail.example.com/api/v1/emails/abc=/attachments/2"><img src="cid:missing@mail">`,
		got,
	)
}

func TestNormalizeContentID_KeepsCase(t *testing.T) {
	assert.Equal(t, "Logo@Mail", NormalizeContentID(" <Logo@Mail> "))
	assert.Equal(t, "logo@mail", contentIDKey("<Logo@Mail>"))

	atts := []model.Attachment{{ID: "7", ContentID: NormalizeContentID("<Logo@Mail>")}}
	got := RewriteInlineImages(`<img src="CID:LOGO@MAIL">`, "e1", atts, "/api/v1")
	assert.Equal(t, `<img src="/api/v1/emails/e1/attachments/7">`, got)
}

func TestSplitAddress(t *testing.T) {
	name, addr := SplitAddress(`"Ada Lovelace" <ada@example.com>`)
	assert.Equal(t, "Ada Lovelace", name)
	assert.Equal(t, "ada@example.com", addr)

	name, addr = SplitAddress("not an address")
	assert.Empty(t, name)
	assert.Equal(t, "not an address", addr)

	assert.Equal(t,
		[]string{"a@example.com", "b@example.com"},
		SplitAddressList("A <a@example.com>, b@example.com"),
	)
}

func TestListOptionsClamp(t *testing.T) {
	assert.Equal(t, ListOptions{Limit: DefaultLimit}, ListOptions{}.Clamp())
	assert.Equal(t, ListOptions{Limit: MaxLimit, Offset: 0}, ListOptions{Limit: 1000, Offset: -4}.Clamp())
}

func TestComposeMIME(t *testing.T) {
	raw, err := ComposeMIME(model.OutgoingMessage{
		From:    "me@example.com",
		To:      []string{"you@example.com"},
		Bcc:     []string{"hidden@example.com"},
		Subject: "Quarterly numbers",
		Body:    "<p>See attached</p>",
		IsHTML:  true,
		Files: []model.OutgoingFile{
			{Name: "q3.csv", MimeType: "text/csv", Data: []byte("a,b\n1,2\n")},
		},
	}, false)
	require.NoError(t, err)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	subject, err := mr.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", subject)
	assert.Empty(t, mr.Header.Get("Bcc"))

	var sawHTML, sawFile bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, _ := io.ReadAll(part.Body)
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			sawHTML = ct == "text/html" && string(body) == "<p>See attached</p>"
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			sawFile = name == "q3.csv" && string(body) == "a,b\n1,2\n"
		}
	}
	assert.True(t, sawHTML)
	assert.True(t, sawFile)
}

func TestComposeMIME_RequiresRecipients(t *testing.T) {
	_, err := ComposeMIME(model.OutgoingMessage{From: "me@example.com"}, true)
	assert.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	notFound := fmt.Errorf("get: %w", &PermanentError{
		Provider: model.ProviderGmail, Op: "get", Err: ErrNotFound,
	})
	cred := &CredentialError{Provider: model.ProviderIMAP, Op: "login", Err: errors.New("bad password")}
	transient := &TransientError{Provider: model.ProviderGmail, Op: "list", Err: errors.New("503")}

	assert.True(t, IsPermanentError(notFound))
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsCredentialError(cred))
	assert.False(t, IsCredentialError(notFound))

	assert.Equal(t, "Message unavailable.", UserMessage(notFound))
	assert.Equal(t, "Please reconnect your account.", UserMessage(cred))
	assert.Contains(t, UserMessage(transient), "try again")
	assert.Equal(t, "Message unavailable.", UserMessage(&EncodingError{ID: "x", Err: errors.New("bad")}))
}
