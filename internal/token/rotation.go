// Package token keeps OAuth2 credentials valid without user involvement:
// it detects silent refreshes performed by the oauth2 machinery and hands
// the new token pair to a persistence callback before the request that
// triggered the refresh continues.
package token

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/nhle/mailsync/internal/model"
)

// RotationFunc persists a rotated token. It runs synchronously inside
// Token(), so concurrent requests wait for it to return.
type RotationFunc func(ctx context.Context, tok *oauth2.Token) error

// Rotated reports whether next must be persisted in place of prev.
func Rotated(prev, next *oauth2.Token) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		return true
	}
	if next.AccessToken != prev.AccessToken {
		return true
	}
	return next.RefreshToken != "" && next.RefreshToken != prev.RefreshToken
}

// PersistingSource wraps a refreshing token source and calls a
// RotationFunc whenever the token it returns changes.
type PersistingSource struct {
	mu       sync.Mutex
	base     oauth2.TokenSource
	last     *oauth2.Token
	onRotate RotationFunc
	ctx      context.Context
	log      *log.Entry
}

// NewPersistingSource returns a source seeded with the stored token.
// ctx is handed to the callback; it should outlive individual requests.
func NewPersistingSource(
	ctx context.Context,
	base oauth2.TokenSource,
	stored *oauth2.Token,
	onRotate RotationFunc,
	logger *log.Entry,
) *PersistingSource {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &PersistingSource{
		base:     base,
		last:     stored,
		onRotate: onRotate,
		ctx:      ctx,
		log:      logger,
	}
}

// Token returns the current token, persisting it first if it rotated.
// A failing callback is logged and the token is still returned; the next
// process start will simply refresh again.
func (s *PersistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	if !Rotated(s.last, tok) {
		return tok, nil
	}

	if tok.RefreshToken == "" && s.last != nil {
		// Refresh responses usually omit the refresh token.
		cp := *tok
		cp.RefreshToken = s.last.RefreshToken
		tok = &cp
	}

	if s.onRotate != nil {
		if err := s.onRotate(s.ctx, tok); err != nil {
			s.log.WithError(err).Warn("persisting rotated oauth token failed")
		}
	}
	s.last = tok

	return tok, nil
}

// FromModel converts a stored token to its oauth2 form.
func FromModel(t *model.OAuthToken) *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// ToModel converts an oauth2 token to its stored form.
func ToModel(t *oauth2.Token) *model.OAuthToken {
	if t == nil {
		return nil
	}
	return &model.OAuthToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}
