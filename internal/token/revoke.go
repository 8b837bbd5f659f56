package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// GoogleRevokeURL is Google's OAuth2 revocation endpoint.
const GoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

// Revoke invalidates a token upstream. Revoking the refresh token also
// revokes every access token minted from it. An already-invalid token
// (HTTP 400) is treated as revoked.
func Revoke(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	tok string,
) error {
	if tok == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = GoogleRevokeURL
	}

	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusBadRequest:
		return nil
	default:
		return fmt.Errorf("revoking token: unexpected status %d", resp.StatusCode)
	}
}
