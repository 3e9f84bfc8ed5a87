// Package relay forwards user messages to the upstream answer service and
// returns its structured reply unchanged in shape.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lumic/docchat/citation"
)

const sendTimeout = 30 * time.Second

var (
	// ErrEmptyMessage rejects blank input locally, before any network call.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrUnreachable covers connection refused and DNS failures. The usual
	// cause is that the workflow engine behind the webhook is not running.
	ErrUnreachable = errors.New("answer service unreachable; is the workflow engine running?")

	ErrTimeout  = errors.New("answer service timed out")
	ErrUpstream = errors.New("answer service error")
)

// Reply mirrors the answer service payload. Sources pass through verbatim;
// the relay does not reinterpret citation contents.
type Reply struct {
	Response       string            `json:"response"`
	ConversationID string            `json:"conversationId,omitempty"`
	Sources        []citation.Source `json:"sources,omitempty"`
}

type sendRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Client talks to the configured message webhook. Stateless and safe for
// concurrent use.
type Client struct {
	webhookURL string
	client     *http.Client
	logger     *log.Logger
}

func NewClient(webhookURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: sendTimeout,
		},
		logger: logger,
	}
}

// Send forwards one message, tagged with the session's conversation
// identifier so the answer service can correlate turns.
func (c *Client) Send(ctx context.Context, message, conversationID string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, ErrEmptyMessage
	}

	body, err := json.Marshal(sendRequest{Message: message, ConversationID: conversationID})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, c.classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		c.logger.Printf("answer service returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
		return Reply{}, fmt.Errorf("%w: status %s", ErrUpstream, resp.Status)
	}

	var parsed Reply
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Printf("answer service payload malformed: %v", err)
		return Reply{}, fmt.Errorf("%w: malformed payload: %v", ErrUpstream, err)
	}

	return parsed, nil
}

// classify maps a transport error onto the operator-facing taxonomy. End
// users only ever see the generic failure message; the distinction here is
// for the logs.
func (c *Client) classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		c.logger.Printf("answer service timed out: %v", err)
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		c.logger.Printf("answer service unreachable: %v", err)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	c.logger.Printf("answer service call failed: %v", err)
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
