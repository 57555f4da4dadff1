// Package interviewapi talks to the interview backend that owns session
// records, issues room credentials and closes finished sessions.
package interviewapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"liveinterview/internal/domain"
)

const (
	defaultTimeout    = 12 * time.Second
	maxErrorBodyBytes = 4096
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithLogger attaches a logger for per-request debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("module", "interviewapi").Logger() }
}

// Client implements ports.SessionAPI over the backend REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("interview API base URL is not configured")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid interview API base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported interview API scheme %q", parsed.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sessionResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	RoomName   string `json:"roomName"`
	TargetRole string `json:"targetRole"`
}

type credentialRequest struct {
	RoomName  string `json:"roomName"`
	SessionID string `json:"sessionId"`
}

type credentialResponse struct {
	Token                string `json:"token"`
	TransportEndpointURL string `json:"transportEndpointUrl"`
	ServerURL            string `json:"serverUrl"`
	RoomName             string `json:"roomName"`
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("interview API %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("interview API %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// LookupSession returns domain.ErrSessionNotFound on a 404.
func (c *Client) LookupSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}

	var resp sessionResponse
	err := c.do(ctx, "lookup session", http.MethodGet, "/interview/sessions/"+url.PathEscape(sessionID), nil, &resp)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return domain.SessionRecord{}, domain.ErrSessionNotFound
		}
		return domain.SessionRecord{}, err
	}
	if resp.ID == "" {
		resp.ID = sessionID
	}
	return domain.SessionRecord{
		ID:         resp.ID,
		Status:     strings.ToLower(strings.TrimSpace(resp.Status)),
		RoomName:   resp.RoomName,
		TargetRole: resp.TargetRole,
	}, nil
}

func (c *Client) IssueCredential(ctx context.Context, roomName string, sessionID string) (domain.SessionCredential, error) {
	var resp credentialResponse
	body := credentialRequest{RoomName: roomName, SessionID: sessionID}
	if err := c.do(ctx, "issue credential", http.MethodPost, "/interview/credentials", body, &resp); err != nil {
		return domain.SessionCredential{}, err
	}

	endpoint := resp.TransportEndpointURL
	if endpoint == "" {
		endpoint = resp.ServerURL
	}
	if resp.RoomName == "" {
		resp.RoomName = roomName
	}
	return domain.SessionCredential{
		Token:                resp.Token,
		TransportEndpointURL: endpoint,
		RoomName:             resp.RoomName,
	}, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "end session", http.MethodPost, "/interview/sessions/"+url.PathEscape(sessionID)+"/end", nil, nil)
}

func (c *Client) do(ctx context.Context, op string, method string, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("interview API %s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("interview API %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("interview API %s: request failed: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("took", time.Since(started)).Msg("interview API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("interview API %s: decode response: %w", op, err)
	}
	return nil
}
