package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

// fakeGmail serves a small mailbox over the Gmail REST surface.
type fakeGmail struct {
	t        *testing.T
	mu       sync.Mutex
	messages []*gmailapi.Message
	modifies []gmailapi.ModifyMessageRequest
	trashed  []string
	sent     []string
	watched  string
	stopped  bool
	token    string
	lists    int32
}

func newFakeGmail(t *testing.T) *fakeGmail {
	f := &fakeGmail{t: t, token: "valid"}
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("m%d", i+1)
		f.messages = append(f.messages, &gmailapi.Message{
			Id:           id,
			ThreadId:     "t" + id,
			LabelIds:     []string{"INBOX", "UNREAD"},
			InternalDate: base.Add(-time.Duration(i) * time.Hour).UnixMilli(),
			Snippet:      "snippet " + id,
			Payload: &gmailapi.MessagePart{
				MimeType: "text/plain",
				Headers: []*gmailapi.MessagePartHeader{
					{Name: "From", Value: "Sender " + id + " <" + id + "@example.com>"},
					{Name: "To", Value: "me@example.com"},
					{Name: "Subject", Value: "Subject " + id},
				},
				Body: &gmailapi.MessagePartBody{Data: b64("plain body of " + id)},
			},
		})
	}
	f.messages[0].LabelIds = []string{"STARRED", "INBOX", "IMPORTANT"}
	f.messages[0].Payload = &gmailapi.MessagePart{
		MimeType: "multipart/mixed",
		Headers: []*gmailapi.MessagePartHeader{
			{Name: "From", Value: "Maya <maya@example.com>"},
			{Name: "To", Value: "me@example.com, other@example.com"},
			{Name: "Cc", Value: "cc@example.com"},
			{Name: "Subject", Value: "With parts"},
		},
		Parts: []*gmailapi.MessagePart{
			{
				PartId:   "0",
				MimeType: "multipart/alternative",
				Parts: []*gmailapi.MessagePart{
					{PartId: "0.0", MimeType: "text/plain", Body: &gmailapi.MessagePartBody{Data: b64("plain")}},
					{PartId: "0.1", MimeType: "text/html", Body: &gmailapi.MessagePartBody{Data: b64(`<p>Hello <img src="cid:logo@x"></p>`)}},
				},
			},
			{
				PartId:   "1",
				MimeType: "image/png",
				Filename: "logo.png",
				Headers:  []*gmailapi.MessagePartHeader{{Name: "Content-ID", Value: "<logo@x>"}},
				Body:     &gmailapi.MessagePartBody{Data: b64("PNGDATA"), Size: 7},
			},
			{
				PartId:   "2",
				MimeType: "application/pdf",
				Filename: "report.pdf",
				Body:     &gmailapi.MessagePartBody{AttachmentId: "blob-1", Size: 9},
			},
		},
	}
	return f
}

func (f *fakeGmail) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func (f *fakeGmail) writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s","errors":[{"reason":"%s","message":"%s"}]}}`,
		code, reason, reason, reason)
}

func (f *fakeGmail) find(id string) *gmailapi.Message {
	for _, m := range f.messages {
		if m.Id == id {
			return m
		}
	}
	return nil
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+f.token {
				f.writeError(w, http.StatusUnauthorized, "authError")
				return
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			next(w, r)
		}
	}

	mux.HandleFunc("GET /gmail/v1/users/me/labels", auth(func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, gmailapi.ListLabelsResponse{Labels: []*gmailapi.Label{
			{Id: "CATEGORY_SOCIAL", Name: "CATEGORY_SOCIAL", Type: "system"},
			{Id: "SENT", Name: "SENT", Type: "system"},
			{Id: "INBOX", Name: "INBOX", Type: "system"},
			{Id: "Label_2", Name: "Zeta", Type: "user"},
			{Id: "Label_1", Name: "Alpha", Type: "user"},
		}})
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/labels/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		f.writeJSON(w, gmailapi.Label{Id: id, MessagesTotal: int64(len(id)), MessagesUnread: 1})
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/messages", auth(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.lists, 1)
		start, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))
		max, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		var matching []*gmailapi.Message
		for _, m := range f.messages {
			if label := r.URL.Query().Get("labelIds"); label == "" || hasLabel(m.LabelIds, label) {
				matching = append(matching, m)
			}
		}
		end := min(start+max, len(matching))
		resp := gmailapi.ListMessagesResponse{ResultSizeEstimate: int64(len(matching))}
		for _, m := range matching[start:end] {
			resp.Messages = append(resp.Messages, &gmailapi.Message{Id: m.Id, ThreadId: m.ThreadId})
		}
		if end < len(matching) {
			resp.NextPageToken = strconv.Itoa(end)
		}
		f.writeJSON(w, resp)
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		m := f.find(r.PathValue("id"))
		if m == nil {
			f.writeError(w, http.StatusNotFound, "notFound")
			return
		}
		f.writeJSON(w, m)
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}/attachments/{aid}", auth(func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("aid") != "blob-1" {
			f.writeError(w, http.StatusNotFound, "notFound")
			return
		}
		f.writeJSON(w, gmailapi.MessagePartBody{Data: b64("PDF-BYTES"), Size: 9})
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", auth(func(w http.ResponseWriter, r *http.Request) {
		var req gmailapi.ModifyMessageRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.modifies = append(f.modifies, req)
		f.writeJSON(w, gmailapi.Message{Id: r.PathValue("id")})
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/trash", auth(func(w http.ResponseWriter, r *http.Request) {
		f.trashed = append(f.trashed, r.PathValue("id"))
		f.writeJSON(w, gmailapi.Message{Id: r.PathValue("id")})
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", auth(func(w http.ResponseWriter, r *http.Request) {
		var msg gmailapi.Message
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&msg))
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		require.NoError(f.t, err)
		f.sent = append(f.sent, string(raw))
		f.writeJSON(w, gmailapi.Message{Id: "sent-1"})
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/watch", auth(func(w http.ResponseWriter, r *http.Request) {
		var req gmailapi.WatchRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.watched = req.TopicName
		f.writeJSON(w, gmailapi.WatchResponse{HistoryId: 4242, Expiration: 1767225600000})
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/stop", auth(func(w http.ResponseWriter, r *http.Request) {
		f.stopped = true
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/profile", auth(func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, gmailapi.Profile{EmailAddress: "me@example.com"})
	}))
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		f.token = "rotated"
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"rotated","token_type":"Bearer","expires_in":3600}`)
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeGmail, tok *oauth2.Token, onRotate func(context.Context, *oauth2.Token) error) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	if tok == nil {
		tok = &oauth2.Token{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}
	}
	p, err := New(context.Background(), Config{
		OAuth: &oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		},
		Token:      tok,
		OnRotate:   onRotate,
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestListMailboxes_FiltersAndOrders(t *testing.T) {
	p := newTestProvider(t, newFakeGmail(t), nil, nil)

	boxes, err := p.ListMailboxes(context.Background())
	require.NoError(t, err)

	want := []model.Mailbox{
		{ID: "INBOX", Name: "Inbox", Type: model.MailboxTypeInbox, UnreadCount: 1, TotalCount: 5},
		{ID: "SENT", Name: "Sent", Type: model.MailboxTypeSent, UnreadCount: 1, TotalCount: 4},
		{ID: "Label_1", Name: "Alpha", Type: model.MailboxTypeUser, UnreadCount: 1, TotalCount: 7},
		{ID: "Label_2", Name: "Zeta", Type: model.MailboxTypeUser, UnreadCount: 1, TotalCount: 7},
	}
	if diff := cmp.Diff(want, boxes); diff != "" {
		t.Errorf("mailboxes mismatch (-want +got):\n%s", diff)
	}
}

func TestListMessages_OffsetEmulation(t *testing.T) {
	f := newFakeGmail(t)
	p := newTestProvider(t, f, nil, nil)
	ctx := context.Background()

	first, err := p.ListMessages(ctx, "INBOX", provider.ListOptions{Limit: 2})
	require.NoError(t, err)
	second, err := p.ListMessages(ctx, "INBOX", provider.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	last, err := p.ListMessages(ctx, "INBOX", provider.ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)

	var ids []string
	for _, page := range []*model.EmailPage{first, second, last} {
		for _, e := range page.Emails {
			ids = append(ids, e.ID)
		}
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids)
	assert.Equal(t, 5, first.Total)
	assert.True(t, first.HasMore)
	assert.False(t, last.HasMore)

	beyond, err := p.ListMessages(ctx, "INBOX", provider.ListOptions{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond.Emails)
}

func TestGetMessage_NormalizesPartTree(t *testing.T) {
	p := newTestProvider(t, newFakeGmail(t), nil, nil)

	e, err := p.GetMessage(context.Background(), "m1")
	require.NoError(t, err)

	assert.Equal(t, "maya@example.com", e.From)
	assert.Equal(t, "Maya", e.FromName)
	assert.Equal(t, []string{"me@example.com", "other@example.com"}, e.To)
	assert.Equal(t, []string{"cc@example.com"}, e.Cc)
	assert.True(t, e.IsHTML)
	assert.Contains(t, e.Body, `cid:logo@x`)
	assert.Equal(t, "Hello", e.Preview)
	assert.Equal(t, model.MailboxInbox, e.MailboxID)
	assert.True(t, e.IsStarred)
	assert.True(t, e.IsImportant)
	assert.True(t, e.IsRead)

	require.Len(t, e.Attachments, 2)
	assert.Equal(t, model.Attachment{ID: "1", Name: "logo.png", Size: 7, MimeType: "image/png", ContentID: "logo@x"}, e.Attachments[0])
	assert.Equal(t, model.Attachment{ID: "2", Name: "report.pdf", Size: 9, MimeType: "application/pdf"}, e.Attachments[1])

	again, err := p.GetMessage(context.Background(), "m1")
	require.NoError(t, err)
	if diff := cmp.Diff(e, again); diff != "" {
		t.Errorf("second fetch differs (-first +second):\n%s", diff)
	}

	plain, err := p.GetMessage(context.Background(), "m2")
	require.NoError(t, err)
	assert.False(t, plain.IsHTML)
	assert.False(t, plain.IsRead)
	assert.Equal(t, "plain body of m2", plain.Body)
}

func TestNormalize_InlinePartWithoutFilename(t *testing.T) {
	msg := &gmailapi.Message{
		Id:       "m9",
		LabelIds: []string{"INBOX"},
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/related",
			Headers:  []*gmailapi.MessagePartHeader{{Name: "From", Value: "maya@example.com"}},
			Parts: []*gmailapi.MessagePart{
				{
					PartId:   "0",
					MimeType: "text/html",
					Body:     &gmailapi.MessagePartBody{Data: b64(`<img src="cid:img1@x">`)},
				},
				{
					PartId:   "1",
					MimeType: "image/png",
					Headers:  []*gmailapi.MessagePartHeader{{Name: "Content-ID", Value: "<IMG1@x>"}},
					Body:     &gmailapi.MessagePartBody{Data: b64("PNG")},
				},
			},
		},
	}

	e, err := normalize(msg)
	require.NoError(t, err)
	require.Len(t, e.Attachments, 1)
	assert.Equal(t, model.Attachment{
		ID:        "1",
		Name:      "attachment-1",
		Size:      3,
		MimeType:  "image/png",
		ContentID: "IMG1@x",
	}, e.Attachments[0])

	body := provider.RewriteInlineImages(e.Body, e.ID, e.Attachments, "https://mail.example.com/api/v1")
	assert.Equal(t, `<img src="https://mail.example.com/api/v1/emails/m9/attachments/1">`, body)
}

func TestGetAttachment(t *testing.T) {
	p := newTestProvider(t, newFakeGmail(t), nil, nil)
	ctx := context.Background()

	inline, err := p.GetAttachment(ctx, "m1", "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), inline.Data)

	blob, err := p.GetAttachment(ctx, "m1", "2")
	require.NoError(t, err)
	assert.Equal(t, []byte("PDF-BYTES"), blob.Data)
	assert.Equal(t, "report.pdf", blob.Name)

	_, err = p.GetAttachment(ctx, "m1", "9")
	assert.True(t, provider.IsNotFound(err))
}

func TestErrors(t *testing.T) {
	f := newFakeGmail(t)
	p := newTestProvider(t, f, nil, nil)
	ctx := context.Background()

	_, err := p.GetMessage(ctx, "missing")
	assert.True(t, provider.IsNotFound(err))
	assert.True(t, provider.IsPermanentError(err))

	_, err = p.GetMessage(ctx, "bad id/../x")
	assert.True(t, provider.IsEncodingError(err))

	f.token = "revoked"
	_, err = p.GetMessage(ctx, "m1")
	assert.True(t, provider.IsCredentialError(err))
	assert.Equal(t, "Please reconnect your account.", provider.UserMessage(err))
}

func TestMutations(t *testing.T) {
	f := newFakeGmail(t)
	p := newTestProvider(t, f, nil, nil)
	ctx := context.Background()

	require.NoError(t, p.SetFlag(ctx, "m2", provider.FlagRead, true))
	require.NoError(t, p.SetFlag(ctx, "m2", provider.FlagStarred, true))
	require.NoError(t, p.SetFlag(ctx, "m2", provider.FlagStarred, false))
	require.NoError(t, p.Archive(ctx, "m3"))
	require.NoError(t, p.MoveToTrash(ctx, "m4"))

	require.Len(t, f.modifies, 4)
	assert.Equal(t, []string{"UNREAD"}, f.modifies[0].RemoveLabelIds)
	assert.Equal(t, []string{"STARRED"}, f.modifies[1].AddLabelIds)
	assert.Equal(t, []string{"STARRED"}, f.modifies[2].RemoveLabelIds)
	assert.Equal(t, []string{"INBOX"}, f.modifies[3].RemoveLabelIds)
	assert.Equal(t, []string{"m4"}, f.trashed)
}

func TestSend(t *testing.T) {
	f := newFakeGmail(t)
	p := newTestProvider(t, f, nil, nil)

	err := p.Send(context.Background(), model.OutgoingMessage{
		From:    "me@example.com",
		To:      []string{"a@example.com"},
		Bcc:     []string{"hidden@example.com"},
		Subject: "Hi",
		Body:    "Body text",
	})
	require.NoError(t, err)
	require.Len(t, f.sent, 1)
	assert.Contains(t, f.sent[0], "Bcc:")
	assert.Contains(t, f.sent[0], "hidden@example.com")
	assert.True(t, strings.Contains(f.sent[0], "Subject: Hi"))
}

func TestWatchAndProfile(t *testing.T) {
	f := newFakeGmail(t)
	p := newTestProvider(t, f, nil, nil)
	ctx := context.Background()

	state, err := p.StartWatch(ctx, "projects/p/topics/mail")
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), state.HistoryID)
	assert.Equal(t, "projects/p/topics/mail", f.watched)

	_, err = p.StartWatch(ctx, "")
	assert.True(t, provider.IsPermanentError(err))

	require.NoError(t, p.StopWatch(ctx))
	assert.True(t, f.stopped)

	addr, err := p.ValidateCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)
}

func TestRotationPersistsBeforeCallCompletes(t *testing.T) {
	f := newFakeGmail(t)
	var calls []*oauth2.Token
	expired := &oauth2.Token{
		AccessToken:  "valid",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}
	p := newTestProvider(t, f, expired, func(_ context.Context, tok *oauth2.Token) error {
		calls = append(calls, tok)
		return nil
	})

	addr, err := p.ValidateCredential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)

	_, err = p.GetMessage(context.Background(), "m2")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "rotated", calls[0].AccessToken)
	assert.Equal(t, "refresh", calls[0].RefreshToken)
}
