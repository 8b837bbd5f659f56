package imapmail

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/provider"
)

// folderKeywords maps standard mailboxes to lowercase name fragments used
// when a server does not advertise special-use attributes. Order matters:
// the first match wins.
var folderKeywords = []struct {
	id       string
	typ      string
	keywords []string
}{
	{model.MailboxSent, model.MailboxTypeSent, []string{
		"sent", "gesendet", "envoy", "enviad", "inviat", "verzonden", "skickat",
		"wysłane", "отправлен", "đã gửi", "thư đã gửi", "送信",
	}},
	{model.MailboxDraft, model.MailboxTypeDrafts, []string{
		"draft", "entw", "brouillon", "borrador", "bozz", "utkast",
		"szkic", "черновик", "nháp", "下書き",
	}},
	{model.MailboxSpam, model.MailboxTypeSpam, []string{
		"spam", "junk", "bulk", "indésirable", "correo no deseado", "posta indesiderata",
		"ongewenst", "спам", "thư rác", "迷惑",
	}},
	{model.MailboxTrash, model.MailboxTypeTrash, []string{
		"trash", "deleted", "papierkorb", "gelöscht", "corbeille", "papelera",
		"cestino", "prullenbak", "papperskorg", "kosz", "корзин", "удален",
		"thùng rác", "đã xóa", "ゴミ箱",
	}},
	{model.MailboxArchive, model.MailboxTypeArchive, []string{
		"archive", "archiv", "archivo", "archivio", "arkiv", "архив", "lưu trữ", "アーカイブ",
	}},
}

// attrMailboxes maps special-use attributes to standard mailboxes.
var attrMailboxes = []struct {
	attr imap.MailboxAttr
	id   string
	typ  string
}{
	{imap.MailboxAttrSent, model.MailboxSent, model.MailboxTypeSent},
	{imap.MailboxAttrDrafts, model.MailboxDraft, model.MailboxTypeDrafts},
	{imap.MailboxAttrJunk, model.MailboxSpam, model.MailboxTypeSpam},
	{imap.MailboxAttrTrash, model.MailboxTrash, model.MailboxTypeTrash},
	{imap.MailboxAttrArchive, model.MailboxArchive, model.MailboxTypeArchive},
	{imap.MailboxAttrFlagged, model.MailboxStarred, model.MailboxTypeStarred},
	{imap.MailboxAttrImportant, model.MailboxImportant, model.MailboxTypeImportant},
}

// folder is one selectable server folder.
type folder struct {
	name  string
	id    string
	typ   string
	attrs []imap.MailboxAttr
}

// classifyFolder assigns a mailbox ID and type to a server folder: INBOX
// by name, then special-use attributes, then name keywords, else the raw
// name as a user folder.
func classifyFolder(name string, attrs []imap.MailboxAttr) (id, typ string) {
	id, typ, _ = classifyFolderRank(name, attrs)
	return id, typ
}

// classifyFolderRank is classifyFolder plus whether the result came from
// the folder's name or attributes rather than a keyword guess.
func classifyFolderRank(name string, attrs []imap.MailboxAttr) (id, typ string, exact bool) {
	if strings.EqualFold(name, "INBOX") {
		return model.MailboxInbox, model.MailboxTypeInbox, true
	}
	for _, m := range attrMailboxes {
		for _, a := range attrs {
			if strings.EqualFold(string(a), string(m.attr)) {
				return m.id, m.typ, true
			}
		}
	}

	lower := strings.ToLower(leafName(name))
	for _, k := range folderKeywords {
		for _, kw := range k.keywords {
			if hasWordPrefix(lower, kw) {
				return k.id, k.typ, false
			}
		}
	}
	return name, model.MailboxTypeUser, false
}

// hasWordPrefix reports whether kw occurs in s at the start of a word.
func hasWordPrefix(s, kw string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		if i == 0 {
			return true
		}
		prev, _ := utf8.DecodeLastRuneInString(s[:i])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		from = i + size
	}
	return false
}

// leafName strips hierarchy prefixes such as "INBOX." or "[Gmail]/".
func leafName(name string) string {
	if i := strings.LastIndexAny(name, "/."); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

func selectable(attrs []imap.MailboxAttr) bool {
	for _, a := range attrs {
		if strings.EqualFold(string(a), string(imap.MailboxAttrNoSelect)) ||
			strings.EqualFold(string(a), string(imap.MailboxAttrNonExistent)) {
			return false
		}
	}
	return true
}

// listFolders returns every selectable folder in LIST order.
func listFolders(c *imapclient.Client) ([]folder, error) {
	data, err := c.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	folders := make([]folder, 0, len(data))
	for _, d := range data {
		if !selectable(d.Attrs) {
			continue
		}
		folders = append(folders, folder{name: d.Mailbox, attrs: d.Attrs})
	}
	assignFolderIDs(folders)
	return folders, nil
}

// assignFolderIDs classifies folders in place. Each standard ID goes to at
// most one folder: INBOX and special-use attributes claim first, keyword
// matches fill the remaining IDs in LIST order, and losers keep their raw
// name.
func assignFolderIDs(folders []folder) {
	taken := make(map[string]bool)
	exact := make([]bool, len(folders))
	for i := range folders {
		f := &folders[i]
		f.id, f.typ, exact[i] = classifyFolderRank(f.name, f.attrs)
		if !exact[i] {
			continue
		}
		if taken[f.id] {
			f.id, f.typ = f.name, model.MailboxTypeUser
		}
		taken[f.id] = true
	}
	for i := range folders {
		if exact[i] {
			continue
		}
		f := &folders[i]
		if taken[f.id] {
			f.id, f.typ = f.name, model.MailboxTypeUser
		}
		taken[f.id] = true
	}
}

// folderResolver maps mailbox IDs to server folder names for the length
// of one operation. It lists folders at most once and is discarded when
// the operation ends.
type folderResolver struct {
	client  *imapclient.Client
	folders []folder
	loaded  bool
}

func newFolderResolver(c *imapclient.Client) *folderResolver {
	return &folderResolver{client: c}
}

func (r *folderResolver) all() ([]folder, error) {
	if r.loaded {
		return r.folders, nil
	}
	folders, err := listFolders(r.client)
	if err != nil {
		return nil, err
	}
	r.folders = folders
	r.loaded = true
	return folders, nil
}

// resolve returns the server folder name for a mailbox ID, accepting
// either a standard ID or a raw folder name.
func (r *folderResolver) resolve(mailboxID string) (string, error) {
	if strings.EqualFold(mailboxID, model.MailboxInbox) {
		return "INBOX", nil
	}
	folders, err := r.all()
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if f.id == mailboxID {
			return f.name, nil
		}
	}
	for _, f := range folders {
		if f.name == mailboxID {
			return f.name, nil
		}
	}
	return "", fmt.Errorf("mailbox %s: %w", mailboxID, provider.ErrNotFound)
}

// mailboxID returns the mailbox ID reported for a server folder name.
func (r *folderResolver) mailboxID(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return model.MailboxInbox
	}
	folders, err := r.all()
	if err == nil {
		for _, f := range folders {
			if f.name == name {
				return f.id
			}
		}
	}
	id, _ := classifyFolder(name, nil)
	return id
}
