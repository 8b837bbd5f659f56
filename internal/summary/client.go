// Package summary asks a language model for a short digest of an email.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 512
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"

	// maxInputRunes bounds the email text sent for summarization.
	maxInputRunes = 12000
)

// Unavailable is the text shown when a summary cannot be produced.
const Unavailable = "Summary unavailable."

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("summarization is not configured")

const systemPrompt = "You summarize emails for a busy reader. " +
	"Reply with two or three plain sentences covering the sender's intent, " +
	"any requested action and any deadline. Do not add greetings or markup."

// Client calls the Claude Messages API.
type Client struct {
	apiKey    string
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
	log       *log.Entry
}

// New creates a client from configuration. Empty fields use defaults.
func New(cfg model.SummaryConfig, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	c := &Client{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{},
		log:       logger.WithField("component", "summary"),
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	return c
}

// Summarize returns a short summary of plain text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("nothing to summarize")
	}
	if utf8.RuneCountInString(text) > maxInputRunes {
		text = string([]rune(text)[:maxInputRunes])
	}

	resp, err := c.callAPI(ctx, text)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, ""))
	if out == "" {
		return "", errors.New("empty summary")
	}
	c.log.WithFields(log.Fields{
		"model":       resp.Model,
		"stop_reason": resp.StopReason,
	}).Debug("summarized email")
	return out, nil
}

// callAPI makes a single request to the Claude Messages API.
func (c *Client) callAPI(ctx context.Context, text string) (*apiResponse, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages: []apiMessage{{
			Role:    "user",
			Content: []apiContentBlock{{Type: "text", Text: text}},
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// --- Claude API types ---

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Role       string            `json:"role"`
	Content    []apiContentBlock `json:"content"`
	Model      string            `json:"model"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
