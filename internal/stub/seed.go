package stub

import (
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// seedBase anchors the sample data so every run produces the same mail.
var seedBase = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

type seedMessage struct {
	mailbox  string
	from     string
	fromName string
	to       []string
	subject  string
	body     string
	html     bool
	read     bool
	starred  bool
	age      time.Duration
	files    []seedFile
}

type seedFile struct {
	name      string
	mimeType  string
	contentID string
	data      []byte
}

// pixel is a 1x1 transparent GIF used for the inline image sample.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

var seedMessages = []seedMessage{
	{
		mailbox:  model.MailboxInbox,
		from:     "maya@northwind.example",
		fromName: "Maya Chen",
		subject:  "Quarterly planning notes",
		body:     "<p>Hi,</p><p>Attached are the notes from <b>Thursday</b>. The roadmap is on slide 3.</p><img src=\"cid:roadmap@northwind\">",
		html:     true,
		age:      2 * time.Hour,
		files: []seedFile{
			{name: "roadmap.gif", mimeType: "image/gif", contentID: "roadmap@northwind", data: pixel},
			{name: "notes.txt", mimeType: "text/plain", data: []byte("1. hiring\n2. budget\n3. launch date\n")},
		},
	},
	{
		mailbox:  model.MailboxInbox,
		from:     "builds@ci.example",
		fromName: "CI",
		subject:  "Build #4182 passed",
		body:     "All 312 checks passed on main in 6m12s.",
		read:     true,
		age:      5 * time.Hour,
	},
	{
		mailbox:  model.MailboxInbox,
		from:     "omar@contoso.example",
		fromName: "Omar Haddad",
		subject:  "Contract draft for review",
		body:     "Could you take a look at section 4 before Friday? I flagged two clauses.",
		starred:  true,
		age:      26 * time.Hour,
	},
	{
		mailbox:  model.MailboxInbox,
		from:     "noreply@travel.example",
		fromName: "Travel Desk",
		subject:  "Your itinerary: Hanoi, 12-16 Feb",
		body:     "<h2>Booking confirmed</h2><p>Flight VN 254 departs 08:40.</p>",
		html:     true,
		read:     true,
		age:      50 * time.Hour,
	},
	{
		mailbox:  model.MailboxInbox,
		from:     "lena@fabrikam.example",
		fromName: "Lena Novak",
		subject:  "Lunch next week?",
		body:     "Tuesday or Wednesday works for me. The new place on 5th?",
		age:      74 * time.Hour,
	},
	{
		mailbox:  model.MailboxInbox,
		from:     "billing@cloud.example",
		fromName: "Cloud Billing",
		subject:  "Invoice for December",
		body:     "Your invoice of $42.10 is available in the console.",
		read:     true,
		age:      120 * time.Hour,
	},
	{
		mailbox:  model.MailboxSent,
		from:     "",
		fromName: "",
		to:       []string{"maya@northwind.example"},
		subject:  "Re: Quarterly planning notes",
		body:     "Thanks Maya, I will add the budget numbers tonight.",
		read:     true,
		age:      time.Hour,
	},
	{
		mailbox: model.MailboxSent,
		to:      []string{"omar@contoso.example"},
		subject: "Re: Contract draft for review",
		body:    "On it, expect comments tomorrow.",
		read:    true,
		age:     25 * time.Hour,
	},
	{
		mailbox: model.MailboxDraft,
		to:      []string{"team@northwind.example"},
		subject: "Offsite agenda (draft)",
		body:    "Morning: retro. Afternoon: planning. Evening: dinner.",
		read:    true,
		age:     30 * time.Hour,
	},
	{
		mailbox:  model.MailboxArchive,
		from:     "hr@northwind.example",
		fromName: "People Team",
		subject:  "Holiday calendar 2026",
		body:     "The office is closed on the dates listed in the attached calendar.",
		read:     true,
		starred:  true,
		age:      400 * time.Hour,
	},
}

// seedFor builds the sample mailbox for one user. The user's address fills
// the recipient of received mail and the sender of sent mail.
func seedFor(address string) *mailbox {
	mb := &mailbox{
		blobs: make(map[string][][]byte),
	}
	for i, s := range seedMessages {
		id := fmt.Sprintf("stub-%03d", i+1)

		e := model.Email{
			ID:         id,
			ThreadID:   id,
			MailboxID:  s.mailbox,
			From:       s.from,
			FromName:   s.fromName,
			To:         s.to,
			Subject:    s.subject,
			Body:       s.body,
			IsHTML:     s.html,
			IsRead:     s.read,
			IsStarred:  s.starred,
			ReceivedAt: seedBase.Add(-s.age),
		}
		if e.From == "" {
			e.From = address
		}
		if len(e.To) == 0 {
			e.To = []string{address}
		}
		e.Preview = provider.Preview(e.Body, e.IsHTML)

		var blobs [][]byte
		for j, f := range s.files {
			e.Attachments = append(e.Attachments, model.Attachment{
				ID:        fmt.Sprintf("%d", j),
				Name:      f.name,
				Size:      int64(len(f.data)),
				MimeType:  f.mimeType,
				ContentID: f.contentID,
			})
			blobs = append(blobs, f.data)
		}
		if len(blobs) > 0 {
			mb.blobs[id] = blobs
		}
		mb.emails = append(mb.emails, e)
	}
	return mb
}
