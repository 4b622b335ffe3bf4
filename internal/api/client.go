// Package api submits messages to the backend's HTTP endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
)

const maxErrorBody = 512

// StatusError is returned when the backend answers with anything but 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client posts messages with a static token.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	log      *zerolog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Path    string
	Token   string
	Timeout time.Duration
}

// NewClient builds a sender. A zero Timeout means no timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	path := cfg.Path
	if path == "" {
		path = proto.SendPath
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/"),
		token:    cfg.Token,
		http:     httpClient,
		log:      logger,
	}
}

// Endpoint returns the full send URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Send posts req. Only HTTP 200 counts as success; the body is ignored.
func (c *Client) Send(ctx context.Context, req proto.SendRequest) error {
	if req.MediaURL == nil {
		req.MediaURL = []json.RawMessage{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set(proto.TokenHeader, c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("endpoint", c.endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("send request completed")

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
