package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
)

// userRow mirrors the users table.
type userRow struct {
	ID              string       `db:"id"`
	Email           string       `db:"email"`
	Provider        string       `db:"provider"`
	AccessToken     string       `db:"access_token"`
	RefreshToken    string       `db:"refresh_token"`
	TokenType       string       `db:"token_type"`
	TokenExpiry     sql.NullTime `db:"token_expiry"`
	IMAPHost        string       `db:"imap_host"`
	IMAPPort        int          `db:"imap_port"`
	SMTPHost        string       `db:"smtp_host"`
	SMTPPort        int          `db:"smtp_port"`
	IMAPUsername    string       `db:"imap_username"`
	IMAPPasswordEnc string       `db:"imap_password_enc"`
	IMAPSecurity    string       `db:"imap_security"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r userRow) toCredential() *model.Credential {
	cred := &model.Credential{
		UserID:    r.ID,
		Email:     r.Email,
		Kind:      model.ProviderKind(r.Provider),
		UpdatedAt: r.UpdatedAt,
	}
	switch cred.Kind {
	case model.ProviderGmail:
		tok := &model.OAuthToken{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			TokenType:    r.TokenType,
		}
		if r.TokenExpiry.Valid {
			tok.Expiry = r.TokenExpiry.Time
		}
		cred.OAuth = tok
	case model.ProviderIMAP:
		cred.IMAP = &model.IMAPAccount{
			Host:              r.IMAPHost,
			Port:              r.IMAPPort,
			SMTPHost:          r.SMTPHost,
			SMTPPort:          r.SMTPPort,
			Username:          r.IMAPUsername,
			EncryptedPassword: r.IMAPPasswordEnc,
			Security:          r.IMAPSecurity,
		}
	}
	return cred
}

const selectUser = `
	SELECT id, email, provider,
		access_token, refresh_token, token_type, token_expiry,
		imap_host, imap_port, smtp_host, smtp_port,
		imap_username, imap_password_enc, imap_security,
		created_at, updated_at
	FROM users`

// FindByUser returns the credential stored for userID.
func (s *SQLiteStore) FindByUser(ctx context.Context, userID string) (*model.Credential, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUser+" WHERE id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}
	return row.toCredential(), nil
}

// FindByAddress resolves a mailbox address, case-insensitively.
func (s *SQLiteStore) FindByAddress(ctx context.Context, address string) (*model.Credential, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, selectUser+" WHERE email = ? COLLATE NOCASE",
		strings.TrimSpace(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by address %s: %w", address, err)
	}
	return row.toCredential(), nil
}

// UserIDsByKind returns the IDs of users whose credential is one of
// kinds, ordered by ID.
func (s *SQLiteStore) UserIDsByKind(ctx context.Context, kinds ...model.ProviderKind) ([]string, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	args := make([]any, len(kinds))
	for i, k := range kinds {
		args[i] = string(k)
	}
	query, args, err := sqlx.In("SELECT id FROM users WHERE provider IN (?) ORDER BY id", args)
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return ids, nil
}

// Update inserts or replaces the credential for cred.UserID.
func (s *SQLiteStore) Update(ctx context.Context, cred model.Credential) error {
	if cred.UserID == "" {
		return fmt.Errorf("updating credential: empty user id")
	}
	now := time.Now().UTC()

	row := userRow{
		ID:       cred.UserID,
		Email:    strings.ToLower(strings.TrimSpace(cred.Email)),
		Provider: string(cred.Kind),
	}
	if cred.OAuth != nil {
		row.AccessToken = cred.OAuth.AccessToken
		row.RefreshToken = cred.OAuth.RefreshToken
		row.TokenType = cred.OAuth.TokenType
		if !cred.OAuth.Expiry.IsZero() {
			row.TokenExpiry = sql.NullTime{Time: cred.OAuth.Expiry.UTC(), Valid: true}
		}
	}
	if cred.IMAP != nil {
		row.IMAPHost = cred.IMAP.Host
		row.IMAPPort = cred.IMAP.Port
		row.SMTPHost = cred.IMAP.SMTPHost
		row.SMTPPort = cred.IMAP.SMTPPort
		row.IMAPUsername = cred.IMAP.Username
		row.IMAPPasswordEnc = cred.IMAP.EncryptedPassword
		row.IMAPSecurity = cred.IMAP.Security
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, provider,
			access_token, refresh_token, token_type, token_expiry,
			imap_host, imap_port, smtp_host, smtp_port,
			imap_username, imap_password_enc, imap_security,
			created_at, updated_at
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?,
			?, ?
		)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			provider = excluded.provider,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			token_expiry = excluded.token_expiry,
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			imap_username = excluded.imap_username,
			imap_password_enc = excluded.imap_password_enc,
			imap_security = excluded.imap_security,
			updated_at = excluded.updated_at`,
		row.ID, row.Email, row.Provider,
		row.AccessToken, row.RefreshToken, row.TokenType, row.TokenExpiry,
		row.IMAPHost, row.IMAPPort, row.SMTPHost, row.SMTPPort,
		row.IMAPUsername, row.IMAPPasswordEnc, row.IMAPSecurity,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", cred.UserID, err)
	}
	return nil
}

// Clear removes the credential stored for userID. Clearing an unknown
// user is not an error.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", userID, err)
	}
	return nil
}
