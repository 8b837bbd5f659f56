package imapmail

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// startMemServer runs an in-memory IMAP server with INBOX, a localized
// sent folder, Trash and a user folder, and returns an account for it.
func startMemServer(t *testing.T) Account {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser("me", "secret")
	for _, name := range []string{"INBOX", "Thư đã gửi", "Trash", "Projects"} {
		require.NoError(t, user.Create(name, nil))
	}
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Account{
		Host:     host,
		Port:     port,
		Security: SecurityNone,
		Username: "me",
		Password: "secret",
		Address:  "me@example.com",
	}
}

// appendMessages stores n plain messages in INBOX, oldest first.
func appendMessages(t *testing.T, acct Account, n int) {
	t.Helper()
	ctx := context.Background()
	s, err := connect(ctx, acct, nil)
	require.NoError(t, err)
	defer s.close()

	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		raw := []byte("From: Sender " + strconv.Itoa(i) + " <s" + strconv.Itoa(i) + "@example.com>\r\n" +
			"To: me@example.com\r\n" +
			"Subject: Message " + strconv.Itoa(i) + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Body number " + strconv.Itoa(i) + "\r\n")
		cmd := s.Append("INBOX", int64(len(raw)), &imap.AppendOptions{
			Time: base.Add(time.Duration(i) * time.Minute),
		})
		_, err := cmd.Write(raw)
		require.NoError(t, err)
		require.NoError(t, cmd.Close())
		_, err = cmd.Wait()
		require.NoError(t, err)
	}
}

func TestMemServer_ListMailboxesClassifiesLocalizedSent(t *testing.T) {
	acct := startMemServer(t)
	appendMessages(t, acct, 3)
	p := New(acct, nil, "user-1", nil)

	boxes, err := p.ListMailboxes(context.Background())
	require.NoError(t, err)

	byName := map[string]model.Mailbox{}
	for _, b := range boxes {
		byName[b.Name] = b
	}
	require.Contains(t, byName, "Thư đã gửi")
	assert.Equal(t, model.MailboxSent, byName["Thư đã gửi"].ID)
	assert.Equal(t, model.MailboxTypeSent, byName["Thư đã gửi"].Type)
	assert.Equal(t, model.MailboxTrash, byName["Trash"].ID)
	assert.Equal(t, "Projects", byName["Projects"].ID)
	assert.Equal(t, 3, byName["INBOX"].TotalCount)
	assert.Equal(t, 3, byName["INBOX"].UnreadCount)
}

func TestMemServer_ListMessagesNewestFirstAcrossPages(t *testing.T) {
	acct := startMemServer(t)
	appendMessages(t, acct, 5)
	p := New(acct, nil, "user-1", nil)
	ctx := context.Background()

	var subjects []string
	for offset := 0; offset < 6; offset += 2 {
		page, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Limit: 2, Offset: offset})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		for _, e := range page.Emails {
			subjects = append(subjects, e.Subject)
		}
	}
	assert.Equal(t, []string{"Message 5", "Message 4", "Message 3", "Message 2", "Message 1"}, subjects)

	found, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Query: "number 3"})
	require.NoError(t, err)
	require.Len(t, found.Emails, 1)
	assert.Equal(t, "Message 3", found.Emails[0].Subject)
}

func TestMemServer_GetMessageFlagsAndMove(t *testing.T) {
	acct := startMemServer(t)
	appendMessages(t, acct, 2)
	p := New(acct, nil, "user-1", nil)
	ctx := context.Background()

	page, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Emails, 1)
	id := page.Emails[0].ID

	first, err := p.GetMessage(ctx, id)
	require.NoError(t, err)
	second, err := p.GetMessage(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("refetch differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, "s2@example.com", first.From)
	assert.Equal(t, "Sender 2", first.FromName)
	assert.Equal(t, "Body number 2", first.Preview)
	assert.False(t, first.IsRead)

	require.NoError(t, p.SetFlag(ctx, id, provider.FlagRead, true))
	require.NoError(t, p.SetFlag(ctx, id, provider.FlagRead, true))
	require.NoError(t, p.SetFlag(ctx, id, provider.FlagStarred, true))
	require.NoError(t, p.SetFlag(ctx, id, provider.FlagStarred, false))

	after, err := p.GetMessage(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.IsRead)
	assert.False(t, after.IsStarred)

	require.NoError(t, p.MoveToTrash(ctx, id))
	trash, err := p.ListMessages(ctx, model.MailboxTrash, provider.ListOptions{})
	require.NoError(t, err)
	require.Len(t, trash.Emails, 1)
	assert.Equal(t, "Message 2", trash.Emails[0].Subject)

	_, err = p.GetMessage(ctx, id)
	assert.True(t, provider.IsNotFound(err), "got %v", err)
}

func TestMemServer_Errors(t *testing.T) {
	acct := startMemServer(t)
	ctx := context.Background()

	bad := acct
	bad.Password = "wrong"
	_, err := New(bad, nil, "user-1", nil).ValidateCredential(ctx)
	assert.True(t, provider.IsCredentialError(err), "got %v", err)

	addr, err := New(acct, nil, "user-1", nil).ValidateCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", addr)

	_, err = New(acct, nil, "user-1", nil).GetMessage(ctx, "!!not-an-id!!")
	assert.True(t, provider.IsEncodingError(err))

	_, err = New(acct, nil, "user-1", nil).ListMessages(ctx, "NoSuchFolder", provider.ListOptions{})
	assert.True(t, provider.IsNotFound(err), "got %v", err)

	closed := acct
	closed.Port = 1
	_, err = New(closed, nil, "user-1", nil).ListMailboxes(ctx)
	assert.True(t, provider.IsTransientError(err), "got %v", err)
}

func TestMemServer_WatchNotifiesOnNewMail(t *testing.T) {
	acct := startMemServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notified := make(chan string, 4)
	watchers := NewWatchers(ctx, func(_ context.Context, address string) {
		notified <- address
	}, nil)
	defer watchers.StopAll()

	p := New(acct, watchers, "user-1", nil)
	_, err := p.StartWatch(ctx, "")
	require.NoError(t, err)
	assert.True(t, watchers.Active("user-1"))

	// Give the watcher time to enter IDLE before mail arrives.
	require.Eventually(t, func() bool {
		appendMessages(t, acct, 1)
		select {
		case addr := <-notified:
			return addr == "me@example.com"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.StopWatch(ctx))
	assert.False(t, watchers.Active("user-1"))
}

