// Package stub serves synthetic sample mail to users who have not
// connected a mail provider.
package stub

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// mailbox is one user's sample mail, newest first.
type mailbox struct {
	emails []model.Email

	// blobs holds attachment bytes by email ID, indexed by attachment ID.
	blobs map[string][][]byte
}

// Store is an in-memory mail store seeded per user on first use.
type Store struct {
	mu    sync.Mutex
	users map[string]*mailbox
	now   func() time.Time
}

// NewStore creates an empty stub store.
func NewStore() *Store {
	return &Store{
		users: make(map[string]*mailbox),
		now:   time.Now,
	}
}

// mailboxFor returns the user's mailbox, seeding it on first use. The
// caller must hold s.mu.
func (s *Store) mailboxFor(userID, address string) *mailbox {
	mb, ok := s.users[userID]
	if !ok {
		mb = seedFor(address)
		s.users[userID] = mb
	}
	return mb
}

func (mb *mailbox) find(id string) (int, bool) {
	for i := range mb.emails {
		if mb.emails[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func inMailbox(e model.Email, mailboxID string) bool {
	switch mailboxID {
	case model.MailboxStarred:
		return e.IsStarred && e.MailboxID != model.MailboxTrash
	case model.MailboxImportant:
		return e.IsImportant && e.MailboxID != model.MailboxTrash
	default:
		return e.MailboxID == mailboxID
	}
}

func matches(e model.Email, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	for _, field := range []string{e.Subject, e.From, e.FromName, e.Preview} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// copyEmail returns a deep copy so callers cannot mutate stored state.
func copyEmail(e model.Email) model.Email {
	out := e
	out.To = append([]string(nil), e.To...)
	out.Cc = append([]string(nil), e.Cc...)
	out.Labels = append([]string(nil), e.Labels...)
	out.Attachments = append([]model.Attachment(nil), e.Attachments...)
	if e.SnoozedUntil != nil {
		t := *e.SnoozedUntil
		out.SnoozedUntil = &t
	}
	return out
}

var stubMailboxes = []struct {
	id, name, typ string
}{
	{model.MailboxInbox, "Inbox", model.MailboxTypeInbox},
	{model.MailboxStarred, "Starred", model.MailboxTypeStarred},
	{model.MailboxSent, "Sent", model.MailboxTypeSent},
	{model.MailboxDraft, "Drafts", model.MailboxTypeDrafts},
	{model.MailboxArchive, "Archive", model.MailboxTypeArchive},
	{model.MailboxTrash, "Trash", model.MailboxTypeTrash},
}

// Mailboxes lists the fixed stub mailboxes with live counts.
func (s *Store) Mailboxes(userID, address string) []model.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	out := make([]model.Mailbox, 0, len(stubMailboxes))
	for _, m := range stubMailboxes {
		box := model.Mailbox{ID: m.id, Name: m.name, Type: m.typ}
		for _, e := range mb.emails {
			if !inMailbox(e, m.id) {
				continue
			}
			box.TotalCount++
			if !e.IsRead {
				box.UnreadCount++
			}
		}
		out = append(out, box)
	}
	return out
}

// List returns one page of a mailbox, newest first.
func (s *Store) List(userID, address, mailboxID string, opts provider.ListOptions) *model.EmailPage {
	opts = opts.Clamp()

	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	var all []model.Email
	for _, e := range mb.emails {
		if inMailbox(e, mailboxID) && matches(e, opts.Query) {
			all = append(all, e)
		}
	}

	page := &model.EmailPage{
		Emails: []model.Email{},
		Total:  len(all),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if opts.Offset >= len(all) {
		return page
	}
	end := min(opts.Offset+opts.Limit, len(all))
	for _, e := range all[opts.Offset:end] {
		page.Emails = append(page.Emails, copyEmail(e))
	}
	page.HasMore = end < len(all)
	return page
}

// Get returns a single email.
func (s *Store) Get(userID, address, id string) (*model.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	i, ok := mb.find(id)
	if !ok {
		return nil, fmt.Errorf("email %s: %w", id, provider.ErrNotFound)
	}
	e := copyEmail(mb.emails[i])
	return &e, nil
}

// Attachment returns the bytes of one attachment.
func (s *Store) Attachment(userID, address, emailID, attachmentID string) (*model.AttachmentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	i, ok := mb.find(emailID)
	if !ok {
		return nil, fmt.Errorf("email %s: %w", emailID, provider.ErrNotFound)
	}
	idx, err := strconv.Atoi(attachmentID)
	blobs := mb.blobs[emailID]
	if err != nil || idx < 0 || idx >= len(blobs) {
		return nil, fmt.Errorf("attachment %s of %s: %w", attachmentID, emailID, provider.ErrNotFound)
	}
	return &model.AttachmentData{
		Attachment: mb.emails[i].Attachments[idx],
		Data:       append([]byte(nil), blobs[idx]...),
	}, nil
}

// Update applies fn to a stored email under the store lock.
func (s *Store) Update(userID, address, id string, fn func(*model.Email)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	i, ok := mb.find(id)
	if !ok {
		return fmt.Errorf("email %s: %w", id, provider.ErrNotFound)
	}
	fn(&mb.emails[i])
	return nil
}

// AppendSent records an outgoing message in the sent mailbox.
func (s *Store) AppendSent(userID, address string, msg model.OutgoingMessage) model.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxFor(userID, address)

	from := msg.From
	if from == "" {
		from = address
	}
	id := "stub-" + uuid.NewString()
	e := model.Email{
		ID:         id,
		ThreadID:   id,
		MailboxID:  model.MailboxSent,
		From:       from,
		To:         append([]string(nil), msg.To...),
		Cc:         append([]string(nil), msg.Cc...),
		Subject:    msg.Subject,
		Body:       msg.Body,
		IsHTML:     msg.IsHTML,
		IsRead:     true,
		Preview:    provider.Preview(msg.Body, msg.IsHTML),
		ReceivedAt: s.now().UTC(),
	}
	var blobs [][]byte
	for i, f := range msg.Files {
		e.Attachments = append(e.Attachments, model.Attachment{
			ID:       strconv.Itoa(i),
			Name:     f.Name,
			Size:     int64(len(f.Data)),
			MimeType: f.MimeType,
		})
		blobs = append(blobs, append([]byte(nil), f.Data...))
	}
	if len(blobs) > 0 {
		mb.blobs[id] = blobs
	}

	mb.emails = append(mb.emails, e)
	sort.SliceStable(mb.emails, func(i, j int) bool {
		return mb.emails[i].ReceivedAt.After(mb.emails[j].ReceivedAt)
	})
	return copyEmail(e)
}
