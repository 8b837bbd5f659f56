package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/kanban"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/relay"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/internal/stub"
	"github.com/nhle/mailsync/tests/testutil"
)

type fakeForwarder struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (f *fakeForwarder) Publish(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return f.err
}

type harness struct {
	srv   *HTTPServer
	relay *relay.Relay
	store *store.SQLiteStore
}

func newHarness(t *testing.T, fwd Forwarder) *harness {
	t.Helper()
	st := testutil.NewTestStore(t)

	key, err := credential.MasterKey(keyring.NewArrayKeyring(nil))
	require.NoError(t, err)
	cipher, err := credential.NewCipher(key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := relay.New(relay.DefaultSessionBuffer, nil)
	go func() { _ = r.Run(ctx) }()

	svc := mailsync.New(ctx, mailsync.Config{PublicBaseURL: "https://mail.example.com/api/v1"}, mailsync.Deps{
		Vault:    st,
		Cipher:   cipher,
		Stub:     stub.NewStore(),
		Overlay:  kanban.NewOverlay(st, nil),
		Notifier: r,
	}, nil)

	srv := NewHTTPServer(Options{
		Mail:       svc,
		Relay:      r,
		Dispatcher: relay.NewDispatcher(st, r, nil),
		Forwarder:  fwd,
		Heartbeat:  time.Hour,
	})
	return &harness{srv: srv, relay: r, store: st}
}

func (h *harness) do(t *testing.T, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRequiresUserIdentity(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/v1/mailboxes", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMailRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/mailboxes", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	boxes := decode[[]model.Mailbox](t, rec)
	require.NotEmpty(t, boxes)
	assert.Equal(t, model.MailboxInbox, boxes[0].ID)

	rec = h.do(t, http.MethodGet, "/api/v1/mailboxes/INBOX/emails?limit=2&offset=1", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.EmailPage](t, rec)
	assert.Len(t, page.Emails, 2)
	assert.Equal(t, 1, page.Offset)

	rec = h.do(t, http.MethodGet, "/api/v1/emails/stub-001", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	email := decode[model.Email](t, rec)
	assert.Contains(t, email.Body, "https://mail.example.com/api/v1/emails/stub-001/attachments/0")

	rec = h.do(t, http.MethodGet, "/api/v1/emails/stub-001/attachments/0", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline"))

	rec = h.do(t, http.MethodPatch, "/api/v1/emails/stub-002", `{"read":true,"starred":true}`, "u1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/emails/stub-002/star/toggle", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"starred": false}, decode[map[string]bool](t, rec))

	rec = h.do(t, http.MethodPost, "/api/v1/emails/stub-003/trash", "", "u1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/emails/stub-001/summary", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Summary unavailable.", decode[map[string]string](t, rec)["summary"])
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown email", http.MethodGet, "/api/v1/emails/stub-999", "", http.StatusNotFound},
		{"no recipients", http.MethodPost, "/api/v1/emails", `{"subject":"hi"}`, http.StatusUnprocessableEntity},
		{"bad recipient", http.MethodPost, "/api/v1/emails", `{"to":["not-an-address"]}`, http.StatusBadRequest},
		{"bad attachment", http.MethodPost, "/api/v1/emails", `{"to":["a@example.com"],"attachments":[{"name":"x","data":"%%%"}]}`, http.StatusBadRequest},
		{"empty flags", http.MethodPatch, "/api/v1/emails/stub-001", `{}`, http.StatusBadRequest},
		{"unknown column", http.MethodGet, "/api/v1/columns/later", "", http.StatusBadRequest},
		{"snooze without deadline", http.MethodPut, "/api/v1/emails/stub-001/column", `{"column":"snoozed"}`, http.StatusBadRequest},
		{"bad imap settings", http.MethodPost, "/api/v1/account/imap", `{"host":"imap.example.com"}`, http.StatusBadRequest},
		{"gmail not configured", http.MethodGet, "/api/v1/account/gmail/auth-url", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body, "u1")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestSendAccepted(t *testing.T) {
	h := newHarness(t, nil)
	body := `{"to":["a@example.com"],"subject":"hi","body":"hello","attachments":[{"name":"n.txt","mimeType":"text/plain","data":"aGk="}]}`
	rec := h.do(t, http.MethodPost, "/api/v1/emails", body, "u1")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/mailboxes/SENT/emails", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.EmailPage](t, rec)
	require.NotEmpty(t, page.Emails)
	assert.Equal(t, "hi", page.Emails[0].Subject)
}

func TestColumnRoutes(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPut, "/api/v1/emails/stub-002/column", `{"column":"todo"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ColumnTodo, decode[model.WorkflowStatus](t, rec).Column)

	rec = h.do(t, http.MethodGet, "/api/v1/columns/todo", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[model.EmailPage](t, rec)
	require.Len(t, page.Emails, 1)
	assert.Equal(t, "stub-002", page.Emails[0].ID)

	until := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = h.do(t, http.MethodPut, "/api/v1/emails/stub-002/column", `{"column":"snoozed","snoozedUntil":"`+until+`"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/emails/stub-002/wake", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	woke := decode[struct {
		Status  model.WorkflowStatus `json:"status"`
		Changed bool                 `json:"changed"`
	}](t, rec)
	assert.True(t, woke.Changed)
	assert.Equal(t, model.ColumnInbox, woke.Status.Column)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&provider.CredentialError{Err: errors.New("x")}, http.StatusUnauthorized},
		{&provider.EncodingError{ID: "?", Err: errors.New("x")}, http.StatusBadRequest},
		{&provider.PermanentError{Err: provider.ErrNotFound}, http.StatusNotFound},
		{&provider.PermanentError{Err: errors.New("forbidden")}, http.StatusUnprocessableEntity},
		{&provider.TransientError{Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{kanban.ErrDeadlineRequired, http.StatusBadRequest},
		{badRequest("nope"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func pushBody(address string) string {
	inner := `{"emailAddress":"` + address + `","historyId":"4242"}`
	return `{"message":{"data":"` + b64(inner) + `","messageId":"1"},"subscription":"s"}`
}

func TestGmailWebhook_DispatchesToOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Update(ctx, model.Credential{
		UserID: "u-push",
		Email:  "Push@Example.com",
		Kind:   model.ProviderStub,
	}))

	sess := h.relay.NewSession("u-push")
	require.NoError(t, h.relay.Register(ctx, sess))
	require.Eventually(t, func() bool { return h.relay.SessionCount("u-push") == 1 }, time.Second, 5*time.Millisecond)

	rec := h.do(t, http.MethodPost, "/api/v1/webhooks/gmail", pushBody("push@example.com"), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case frame := <-sess.Frames():
		assert.Contains(t, string(frame), "event: mailbox_changed\n")
		assert.Contains(t, string(frame), `"historyId":4242`)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	rec = h.do(t, http.MethodPost, "/api/v1/webhooks/gmail", pushBody("nobody@example.com"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/webhooks/gmail", `{"message":{}}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGmailWebhook_Forwards(t *testing.T) {
	fwd := &fakeForwarder{}
	h := newHarness(t, fwd)

	body := pushBody("push@example.com")
	rec := h.do(t, http.MethodPost, "/api/v1/webhooks/gmail", body, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, fwd.bodies, 1)
	assert.JSONEq(t, body, string(fwd.bodies[0]))

	fwd.err = errors.New("broker down")
	rec = h.do(t, http.MethodPost, "/api/v1/webhooks/gmail", body, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, nil)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderUserID, "u-live")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	ready := readFrame(t, r)
	assert.Contains(t, ready, "event: ready\n")
	assert.Contains(t, ready, "sessionId")

	require.Eventually(t, func() bool { return h.relay.SessionCount("u-live") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.relay.Publish(ctx, "u-live", model.EventMailboxChanged, model.MailboxChange{Address: "live@example.com"}))

	frame := readFrame(t, r)
	assert.Contains(t, frame, "event: mailbox_changed\n")
	assert.Contains(t, frame, "live@example.com")

	cancel()
	assert.Eventually(t, func() bool { return h.relay.SessionCount("u-live") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
