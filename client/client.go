// Package client is a typed HTTP client for the docchat server API. It backs
// the terminal chat app, implementing the session relayer against the chat
// endpoint and the viewer fetcher against the download proxy.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lumic/docchat/citation"
	"github.com/lumic/docchat/relay"
)

// Slightly above the server's own 30s upstream bound so the server, not the
// client, is the one that times out a slow webhook.
const requestTimeout = 35 * time.Second

type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: c}
}

type chatData struct {
	Response string            `json:"response"`
	Sources  []citation.Source `json:"sources,omitempty"`
}

type chatEnvelope struct {
	Success bool      `json:"success"`
	Data    *chatData `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// HealthStatus mirrors the /api/health payload.
type HealthStatus struct {
	Status        string `json:"status"`
	N8NConfigured bool   `json:"n8nConfigured"`
}

// Send posts one message to /api/chat/message and maps the envelope onto the
// relay error taxonomy.
func (c *Client) Send(ctx context.Context, message, conversationID string) (relay.Reply, error) {
	body := map[string]string{"message": message}
	if conversationID != "" {
		body["conversationId"] = conversationID
	}

	var envelope chatEnvelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&envelope).
		SetError(&envelope).
		Post("/api/chat/message")
	if err != nil {
		return relay.Reply{}, fmt.Errorf("%w: %v", relay.ErrUnreachable, err)
	}

	if resp.StatusCode() == http.StatusBadRequest {
		return relay.Reply{}, fmt.Errorf("%w: %s", relay.ErrEmptyMessage, envelope.Error)
	}
	if resp.IsError() || !envelope.Success || envelope.Data == nil {
		return relay.Reply{}, fmt.Errorf("%w: status %s", relay.ErrUpstream, resp.Status())
	}

	return relay.Reply{
		Response: envelope.Data.Response,
		Sources:  envelope.Data.Sources,
	}, nil
}

// FetchDocument streams /api/download into memory for the viewer.
func (c *Client) FetchDocument(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("file", filename).
		SetDoNotParseResponse(true).
		Get("/api/download")
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", filename, err)
	}

	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		_, _ = io.Copy(io.Discard, body)
		return nil, fmt.Errorf("download %s: status %s", filename, resp.Status())
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", filename, err)
	}
	return data, nil
}

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/api/health")
	if err != nil {
		return HealthStatus{}, fmt.Errorf("health check: %w", err)
	}
	if resp.IsError() {
		return HealthStatus{}, fmt.Errorf("health check: status %s", resp.Status())
	}
	return status, nil
}
