// Package apiclient calls the game API outside the page, with the
// player's session token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultBaseURL is the game API origin.
const DefaultBaseURL = "https://api.fallenlondon.com"

// ErrNoToken is returned when the token source has nothing to offer.
var ErrNoToken = errors.New("apiclient: no session token")

// TokenSource returns the current bearer token, or "" when there is none.
type TokenSource func() string

// APIError is a non-2xx answer from the API.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: %s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Sharer is the narrow surface fixers depend on.
type Sharer interface {
	ShareToProfile(ctx context.Context, storyletID int, message, imageCode string) error
}

// Client talks to the game API.
type Client struct {
	base   string
	token  TokenSource
	client *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.base = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client. The default has no timeout: a
// share call lives as long as its context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client reading its bearer token from token.
func New(token TokenSource, opts ...Option) *Client {
	c := &Client{
		base:   DefaultBaseURL,
		token:  token,
		client: &http.Client{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type shareRequest struct {
	ContentClass string `json:"contentClass"`
	ContentKey   int    `json:"contentKey"`
	Message      string `json:"message"`
	Image        string `json:"image"`
}

// ShareToProfile posts a storylet result to the player's profile.
func (c *Client) ShareToProfile(ctx context.Context, storyletID int, message, imageCode string) error {
	return c.post(ctx, "/api/profile/share", shareRequest{
		ContentClass: "EventResult",
		ContentKey:   storyletID,
		Message:      message,
		Image:        imageCode,
	})
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	tok := ""
	if c.token != nil {
		tok = c.token()
	}
	if tok == "" {
		return fmt.Errorf("apiclient: POST %s: %w", path, ErrNoToken)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apiclient: marshal request: %w", err)
	}
	url := c.base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apiclient: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Method: http.MethodPost, URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("apiclient: posted", "path", path, "status", resp.StatusCode)
	return nil
}
