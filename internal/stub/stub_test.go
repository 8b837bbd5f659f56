package stub

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(NewStore(), "user-1", "me@example.com")
}

func TestListMessages_NewestFirstAndPaged(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	first, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, first.Total)
	assert.True(t, first.HasMore)
	require.Len(t, first.Emails, 4)

	second, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Limit: 4, Offset: 4})
	require.NoError(t, err)
	require.Len(t, second.Emails, 2)
	assert.False(t, second.HasMore)

	all := append(first.Emails, second.Emails...)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].ReceivedAt.After(all[i-1].ReceivedAt),
			"email %d is newer than email %d", i, i-1)
	}

	empty, err := p.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, empty.Emails)
}

func TestSeedIsDeterministicPerUser(t *testing.T) {
	ctx := context.Background()
	a := NewProvider(NewStore(), "u", "me@example.com")
	b := NewProvider(NewStore(), "u", "me@example.com")

	pa, err := a.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{})
	require.NoError(t, err)
	pb, err := b.ListMessages(ctx, model.MailboxInbox, provider.ListOptions{})
	require.NoError(t, err)

	if diff := cmp.Diff(pa, pb); diff != "" {
		t.Errorf("seed differs between stores (-a +b):\n%s", diff)
	}
}

func TestGetMessage_StableAcrossFetches(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	a, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)
	b, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("refetch differs (-first +second):\n%s", diff)
	}

	a.To[0] = "mutated"
	c, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", c.To[0])

	_, err = p.GetMessage(ctx, "stub-999")
	assert.True(t, provider.IsNotFound(err))
	assert.True(t, provider.IsPermanentError(err))
}

func TestFlagsAreIdempotent(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	before, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)

	require.NoError(t, p.SetFlag(ctx, "stub-001", provider.FlagStarred, !before.IsStarred))
	require.NoError(t, p.SetFlag(ctx, "stub-001", provider.FlagStarred, before.IsStarred))
	require.NoError(t, p.SetFlag(ctx, "stub-002", provider.FlagRead, true))
	require.NoError(t, p.SetFlag(ctx, "stub-002", provider.FlagRead, true))

	after, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)
	assert.Equal(t, before.IsStarred, after.IsStarred)

	read, err := p.GetMessage(ctx, "stub-002")
	require.NoError(t, err)
	assert.True(t, read.IsRead)
}

func TestTrashArchiveAndCounts(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	require.NoError(t, p.MoveToTrash(ctx, "stub-005"))
	require.NoError(t, p.Archive(ctx, "stub-006"))

	boxes, err := p.ListMailboxes(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, b := range boxes {
		counts[b.ID] = b.TotalCount
	}
	assert.Equal(t, 4, counts[model.MailboxInbox])
	assert.Equal(t, 1, counts[model.MailboxTrash])
	assert.Equal(t, 2, counts[model.MailboxArchive])

	assert.Error(t, p.Archive(ctx, "missing"))
}

func TestSendAppendsToSent(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	err := p.Send(ctx, model.OutgoingMessage{
		To:      []string{"friend@example.com"},
		Subject: "hello",
		Body:    "hi there",
		Files:   []model.OutgoingFile{{Name: "a.txt", MimeType: "text/plain", Data: []byte("abc")}},
	})
	require.NoError(t, err)

	page, err := p.ListMessages(ctx, model.MailboxSent, provider.ListOptions{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, page.Emails, 1)
	sent := page.Emails[0]
	assert.Equal(t, "me@example.com", sent.From)

	data, err := p.GetAttachment(ctx, sent.ID, "0")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data.Data)

	assert.Error(t, p.Send(ctx, model.OutgoingMessage{Subject: "nobody"}))
}

func TestGetAttachment_InlineSample(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	e, err := p.GetMessage(ctx, "stub-001")
	require.NoError(t, err)
	require.Len(t, e.Attachments, 2)
	assert.Equal(t, "roadmap@northwind", e.Attachments[0].ContentID)

	data, err := p.GetAttachment(ctx, "stub-001", "0")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", data.MimeType)
	assert.Equal(t, pixel, data.Data)

	_, err = p.GetAttachment(ctx, "stub-001", "7")
	assert.True(t, provider.IsNotFound(err))
}
