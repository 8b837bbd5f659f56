package model

import "time"

// ProviderKind identifies which backend serves a user's mail.
type ProviderKind string

const (
	ProviderGmail ProviderKind = "gmail"
	ProviderIMAP  ProviderKind = "imap"
	ProviderStub  ProviderKind = "stub"
)

// OAuthToken is the stored OAuth2 token pair for the API backend.
type OAuthToken struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"tokenType"`
	Expiry       time.Time `json:"expiry"`
}

// IMAPAccount holds the protocol backend connection settings. The
// password is kept encrypted at rest and only decrypted per operation.
type IMAPAccount struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	SMTPHost          string `json:"smtpHost"`
	SMTPPort          int    `json:"smtpPort"`
	Username          string `json:"username"`
	EncryptedPassword string `json:"-"`

	// Security is tls, starttls or none; empty derives it from the port.
	Security string `json:"security,omitempty"`
}

// Credential is the long-lived secret owned by a user record. Exactly one
// of OAuth or IMAP is set, matching Kind.
type Credential struct {
	UserID string       `json:"userId"`
	Email  string       `json:"email"`
	Kind   ProviderKind `json:"kind"`

	OAuth *OAuthToken  `json:"oauth,omitempty"`
	IMAP  *IMAPAccount `json:"imap,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}
