package token

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/nhle/mailsync/internal/model"
)

// GoogleConfig builds the OAuth client used to connect Gmail mailboxes.
// It returns nil when no client ID is configured.
func GoogleConfig(cfg model.GoogleConfig, scopes []string) *oauth2.Config {
	if cfg.ClientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}
