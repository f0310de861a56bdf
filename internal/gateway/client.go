package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"fieldconfig-backend/internal/fieldconfig"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 64 * 1024
)

// ErrRemote wraps every transport or non-2xx failure from the config service.
var ErrRemote = errors.New("remote config service error")

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrRemote }

// Client talks to the canonical config service. It is the only component
// that performs network I/O on behalf of an editing session.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New builds a client for baseURL, e.g. http://localhost:8080/api/items.
// A zero timeout disables the client-side deadline.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type messageResponse struct {
	Message string `json:"message"`
}

// FetchConfig returns the canonical descriptor sequence.
func (c *Client) FetchConfig(ctx context.Context) (fieldconfig.Sequence, error) {
	body, err := c.do(ctx, "fetch config", http.MethodGet, "/config", nil)
	if err != nil {
		return nil, err
	}
	var seq fieldconfig.Sequence
	if err := json.Unmarshal(body, &seq); err != nil {
		return nil, fmt.Errorf("%w: fetch config: decode: %v", ErrRemote, err)
	}
	if seq == nil {
		seq = fieldconfig.Sequence{}
	}
	return seq.Dedupe().Enforced(), nil
}

// SaveConfig pushes the full sequence; the remote replaces its copy.
func (c *Client) SaveConfig(ctx context.Context, seq fieldconfig.Sequence) (string, error) {
	if seq == nil {
		seq = fieldconfig.Sequence{}
	}
	payload, err := json.Marshal(seq)
	if err != nil {
		return "", fmt.Errorf("save config: encode: %w", err)
	}
	body, err := c.do(ctx, "save config", http.MethodPost, "/config", payload)
	if err != nil {
		return "", err
	}
	return decodeMessage(body), nil
}

// SyncRemoteMetadata asks the remote to re-derive its configuration from
// the upstream catalog and returns its message.
func (c *Client) SyncRemoteMetadata(ctx context.Context) (string, error) {
	body, err := c.do(ctx, "sync metadata", http.MethodPost, "/sync-fields", nil)
	if err != nil {
		return "", err
	}
	return decodeMessage(body), nil
}

// FetchRawSchema returns the upstream schema document untouched.
func (c *Client) FetchRawSchema(ctx context.Context) ([]byte, error) {
	return c.do(ctx, "fetch schema", http.MethodGet, "/metadata", nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("config service call failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrRemote, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrRemote, op, err)
	}
	c.log.Debug("config service call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: errorText(body)}
	}
	return body, nil
}

func decodeMessage(body []byte) string {
	var m messageResponse
	if err := json.Unmarshal(body, &m); err == nil {
		return m.Message
	}
	return strings.TrimSpace(string(body))
}

// errorText pulls the message out of the service's error envelope when
// present.
func errorText(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}
