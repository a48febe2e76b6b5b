// Package client talks to the chat API over HTTP and decodes streamed turns.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

// DefaultServer is used when no server address is configured.
const DefaultServer = "http://localhost:8080"

const basePath = "/api/v1"

// Client is a thin API client. Identity is sent as a bearer token when
// Token is set, otherwise as the demo user header.
type Client struct {
	server string
	token  string
	user   string
	http   *http.Client

	maxEvent int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxEventSize bounds one line of a turn's event stream. Non-positive
// values keep DefaultMaxEventSize.
func WithMaxEventSize(n int) Option {
	return func(c *Client) { c.maxEvent = n }
}

// New creates a client for server.
func New(server, token, user string, opts ...Option) (*Client, error) {
	s, err := normalizeServerURL(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	// no overall timeout: turns stream for as long as the model writes
	c := &Client{server: s, token: token, user: user, http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// normalizeServerURL adds a scheme when missing and keeps only scheme://host.
func normalizeServerURL(server string) (string, error) {
	if strings.TrimSpace(server) == "" {
		server = DefaultServer
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", errors.New("missing host")
	}
	return u.Scheme + "://" + u.Host, nil
}

// APIError is a non-2xx answer decoded from the server's error envelope.
type APIError struct {
	Status     int
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
	RetryAfter int    `json:"retry_after"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// TurnEvent is one event of a streamed turn.
type TurnEvent struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Content   string          `json:"content,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TurnStatus describes a chat's active turn.
type TurnStatus struct {
	InProgress bool   `json:"in_progress"`
	State      string `json:"state"`
	MessageID  string `json:"message_id,omitempty"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// History is one window of a chat's messages, oldest first.
type History struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// TurnOptions tunes Send and Regenerate.
type TurnOptions struct {
	Model string
	// IdempotencyKey makes the request safe to retry. A random key is used
	// when empty.
	IdempotencyKey string
	// OnEvent receives every stream event in order.
	OnEvent func(TurnEvent)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+basePath+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	return req, nil
}

// do sends a JSON request and decodes a JSON answer into out (may be nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, e); err != nil || e.Code == "" {
		// rate limiter envelope
		var rl struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &rl) == nil && rl.Error != "" {
			e.Code = rl.Error
		}
	}
	if e.RetryAfter == 0 {
		e.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
	}
	return e
}

// CreateChat creates a chat. An empty title lets the server pick one.
func (c *Client) CreateChat(ctx context.Context, title string) (*domain.Chat, error) {
	var ch domain.Chat
	if err := c.do(ctx, http.MethodPost, "/chats", map[string]string{"title": title}, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// History lists one window of messages. offset counts from the newest.
func (c *Client) History(ctx context.Context, chatID string, limit, offset int) (*History, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var h History
	if err := c.do(ctx, http.MethodGet, path, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Status reports the chat's active turn.
func (c *Client) Status(ctx context.Context, chatID string) (*TurnStatus, error) {
	var st TurnStatus
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/turns/current", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop cancels the chat's active turn.
func (c *Client) Stop(ctx context.Context, chatID string) (*TurnStatus, error) {
	var st TurnStatus
	if err := c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/turns/current", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Send posts a user message and follows the streamed answer. It returns the
// final assistant message.
func (c *Client) Send(ctx context.Context, chatID, content string, opts TurnOptions) (*domain.Message, error) {
	body := map[string]string{"content": content}
	if opts.Model != "" {
		body["model"] = opts.Model
	}
	return c.turn(ctx, "/chats/"+url.PathEscape(chatID)+"/turns", body, opts)
}

// Regenerate replaces an assistant message with a new answer.
func (c *Client) Regenerate(ctx context.Context, chatID, messageID string, opts TurnOptions) (*domain.Message, error) {
	body := map[string]string{}
	if opts.Model != "" {
		body["model"] = opts.Model
	}
	path := "/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/regenerate"
	return c.turn(ctx, path, body, opts)
}

var (
	// ErrStreamEnded is returned when a turn stream closes without a final event.
	ErrStreamEnded = errors.New("stream ended before the turn settled")
	// ErrTurnFailed is returned with the stored failure message when
	// generation failed.
	ErrTurnFailed = errors.New("turn failed")
)

func (c *Client) turn(ctx context.Context, path string, body any, opts TurnOptions) (*domain.Message, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	key := opts.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var (
		final   *domain.Message
		failure error
	)
	errDone := errors.New("done")
	err = readEvents(resp.Body, c.maxEvent, func(e Event) error {
		if e.Name == "error" {
			ae := &APIError{Status: resp.StatusCode}
			if json.Unmarshal([]byte(e.Data), ae) != nil {
				ae.Message = e.Data
			}
			return ae
		}
		var ev TurnEvent
		if err := json.Unmarshal([]byte(e.Data), &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", e.Name, err)
		}
		if ev.Type == "" {
			ev.Type = e.Name
		}
		if opts.OnEvent != nil {
			opts.OnEvent(ev)
		}
		switch ev.Type {
		case "committed":
			if ev.Message == nil || ev.Message.Role != domain.RoleUser {
				final = ev.Message
				if final == nil {
					final = &domain.Message{ID: ev.MessageID, Role: domain.RoleAssistant, Content: ev.Content}
				}
				return errDone
			}
		case "failed":
			final = ev.Message
			failure = fmt.Errorf("%w: %s", ErrTurnFailed, ev.Error)
			return errDone
		}
		return nil
	})
	switch {
	case errors.Is(err, errDone):
		return final, failure
	case err != nil:
		return nil, err
	case final == nil:
		return nil, ErrStreamEnded
	}
	return final, nil
}

// Ping checks that the server answers /health.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.server+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}
