package model

import "time"

// Standard mailbox identifiers shared by every provider. The API backend
// uses them verbatim as label IDs; the protocol backend maps them onto
// whatever folder name the server actually uses.
const (
	MailboxInbox     = "INBOX"
	MailboxSent      = "SENT"
	MailboxDraft     = "DRAFT"
	MailboxSpam      = "SPAM"
	MailboxTrash     = "TRASH"
	MailboxArchive   = "ARCHIVE"
	MailboxStarred   = "STARRED"
	MailboxImportant = "IMPORTANT"
)

// Mailbox types reported to clients.
const (
	MailboxTypeInbox     = "inbox"
	MailboxTypeSent      = "sent"
	MailboxTypeDrafts    = "drafts"
	MailboxTypeSpam      = "spam"
	MailboxTypeTrash     = "trash"
	MailboxTypeArchive   = "archive"
	MailboxTypeStarred   = "starred"
	MailboxTypeImportant = "important"
	MailboxTypeSystem    = "system"
	MailboxTypeUser      = "user"
)

// Mailbox is a provider folder or label, recomputed on every request.
type Mailbox struct {
	// ID is provider-native: a label ID for Gmail, a standard token such
	// as "SENT" or the raw folder name for IMAP.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Type classifies the mailbox (inbox, sent, trash, user, ...).
	Type string `json:"type"`

	UnreadCount int `json:"unreadCount"`
	TotalCount  int `json:"totalCount"`
}

// Attachment describes a file attached to an email.
type Attachment struct {
	// ID is opaque and only meaningful together with the owning email ID.
	ID string `json:"id"`

	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`

	// ContentID is set for inline parts referenced from the HTML body
	// through cid: URLs.
	ContentID string `json:"contentId,omitempty"`
}

// AttachmentData carries the bytes of a downloaded attachment.
type AttachmentData struct {
	Attachment
	Data []byte `json:"-"`
}

// Email is the normalized message shape returned by every provider.
type Email struct {
	// ID is opaque and provider-specific. It determines both the message
	// and the mailbox needed to fetch it again.
	ID        string `json:"id"`
	ThreadID  string `json:"threadId,omitempty"`
	MailboxID string `json:"mailboxId"`

	From     string   `json:"from"`
	FromName string   `json:"fromName"`
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`

	Subject string `json:"subject"`
	Preview string `json:"preview"`
	Body    string `json:"body"`
	IsHTML  bool   `json:"isHtml"`

	IsRead      bool `json:"isRead"`
	IsStarred   bool `json:"isStarred"`
	IsImportant bool `json:"isImportant"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
	ReceivedAt  time.Time    `json:"receivedAt"`

	// Status is the Kanban column merged in from the workflow overlay.
	Status       Column     `json:"status,omitempty"`
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`
}

// EmailPage is one page of a mailbox or column listing, newest first.
type EmailPage struct {
	Emails  []Email `json:"emails"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"hasMore"`
}

// OutgoingFile is an attachment supplied by the user when sending.
type OutgoingFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// OutgoingMessage is a message to be sent through a provider.
type OutgoingMessage struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	IsHTML  bool
	Files   []OutgoingFile
}

// Recipients returns every envelope recipient, including Bcc.
func (m OutgoingMessage) Recipients() []string {
	rcpt := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	rcpt = append(rcpt, m.To...)
	rcpt = append(rcpt, m.Cc...)
	rcpt = append(rcpt, m.Bcc...)
	return rcpt
}

// WatchState reports the result of arming a push watch.
type WatchState struct {
	HistoryID  uint64    `json:"historyId,omitempty"`
	Expiration time.Time `json:"expiration,omitempty"`
}
