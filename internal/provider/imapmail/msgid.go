package imapmail

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailsync/internal/provider"
)

// EncodeID builds the opaque message ID for a message in folder. The
// wire format is base64url("{folder}:{uid}") and is relied on by
// external callers.
func EncodeID(folder string, uid imap.UID) string {
	return base64.URLEncoding.EncodeToString([]byte(folder + ":" + strconv.FormatUint(uint64(uid), 10)))
}

// DecodeID reverses EncodeID. The folder may itself contain colons; the
// UID is everything after the last one.
func DecodeID(id string) (string, imap.UID, error) {
	raw, err := base64.URLEncoding.DecodeString(id)
	if err != nil {
		return "", 0, &provider.EncodingError{ID: id, Err: fmt.Errorf("decoding base64: %w", err)}
	}
	s := string(raw)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return "", 0, &provider.EncodingError{ID: id, Err: errors.New("missing folder or uid")}
	}
	uid, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return "", 0, &provider.EncodingError{ID: id, Err: fmt.Errorf("parsing uid: %w", err)}
	}
	return s[:i], imap.UID(uid), nil
}
