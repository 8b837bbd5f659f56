package mailsync

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/provider"
	"github.com/nhle/mailsync/internal/summary"
)

// Summarize returns a short summary of an email. Failures of the
// summarization service degrade to placeholder text; failures to fetch
// the email are returned.
func (s *Service) Summarize(ctx context.Context, userID, emailID string) (string, error) {
	e, err := s.GetEmail(ctx, userID, emailID)
	if err != nil {
		return "", err
	}
	if s.deps.Summarizer == nil {
		return summary.Unavailable, nil
	}

	text := e.Body
	if e.IsHTML {
		text = provider.StripHTML(text)
	}
	if e.Subject != "" {
		text = "Subject: " + e.Subject + "\n\n" + text
	}

	out, err := s.deps.Summarizer.Summarize(ctx, text)
	if err != nil {
		s.log.WithFields(log.Fields{
			"user_id":  userID,
			"email_id": emailID,
		}).WithError(err).Warn("summarization failed")
		return summary.Unavailable, nil
	}
	return out, nil
}
