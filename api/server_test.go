package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lumic/docchat/citation"
	"github.com/lumic/docchat/config"
	"github.com/lumic/docchat/gateway"
	"github.com/lumic/docchat/relay"
)

type stubRelayer struct {
	reply relay.Reply
	err   error
	calls int
}

func (s *stubRelayer) Send(ctx context.Context, message, conversationID string) (relay.Reply, error) {
	s.calls++
	if s.err != nil {
		return relay.Reply{}, s.err
	}
	return s.reply, nil
}

var _ Relayer = (*stubRelayer)(nil)

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, name string) (*gateway.Document, error) {
	if err := gateway.ValidateFilename(name); err != nil {
		return nil, err
	}
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.Document{
		Name:          name,
		ContentLength: int64(len(s.body)),
		Body:          io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

var _ DocumentFetcher = (*stubFetcher)(nil)

func newTestServer(relayer Relayer, fetcher DocumentFetcher) *Server {
	cfg := config.Config{WebhookURL: "http://localhost:5678/webhook/chat", Port: "3000"}
	return New(cfg, relayer, fetcher, log.New(io.Discard, "", 0))
}

func TestChatMessageSuccess(t *testing.T) {
	relayer := &stubRelayer{reply: relay.Reply{
		Response: "Five years.",
		Sources: []citation.Source{
			{Filename: "Warranty.pdf", Chunks: []citation.Chunk{{Text: "passage"}}},
		},
	}}
	server := newTestServer(relayer, &stubFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(`{"message": "warranty?", "conversationId": "conv_1"}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"success":true`) {
		t.Fatalf("expected success envelope, got %s", body)
	}
	if !strings.Contains(body, `"Warranty.pdf"`) {
		t.Fatalf("expected sources in payload, got %s", body)
	}
}

func TestChatMessageEmptyIsRejectedLocally(t *testing.T) {
	relayer := &stubRelayer{}
	server := newTestServer(relayer, &stubFetcher{})

	for _, payload := range []string{`{"message": ""}`, `{"message": "   "}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %s: expected 400, got %d", payload, rec.Code)
		}
	}

	if relayer.calls != 0 {
		t.Fatalf("expected zero relay calls, got %d", relayer.calls)
	}
}

func TestChatMessageUpstreamFailureIsGeneric(t *testing.T) {
	relayer := &stubRelayer{err: relay.ErrUnreachable}
	server := newTestServer(relayer, &stubFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/message", strings.NewReader(`{"message": "hi"}`))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"success":false`) {
		t.Fatalf("expected failure envelope, got %s", body)
	}
	if !strings.Contains(body, genericFailureText) {
		t.Fatalf("expected generic message, got %s", body)
	}
	// The operator-facing detail must not leak to the caller.
	if strings.Contains(body, "unreachable") {
		t.Fatalf("upstream detail leaked into response: %s", body)
	}
}

func TestDownloadStreamsDocument(t *testing.T) {
	fetcher := &stubFetcher{body: "%PDF-1.4 fake"}
	server := newTestServer(&stubRelayer{}, fetcher)

	req := httptest.NewRequest(http.MethodGet, "/api/download?file=Report_2024~3.pdf", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected pdf content type, got %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="Report_2024~3.pdf"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if rec.Body.String() != "%PDF-1.4 fake" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}
}

func TestDownloadMissingFilename(t *testing.T) {
	fetcher := &stubFetcher{}
	server := newTestServer(&stubRelayer{}, fetcher)

	req := httptest.NewRequest(http.MethodGet, "/api/download", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected zero fetches, got %d", fetcher.calls)
	}
}

func TestDownloadInvalidFilename(t *testing.T) {
	fetcher := &stubFetcher{}
	server := newTestServer(&stubRelayer{}, fetcher)

	for _, file := range []string{"..%2Fsecret.pdf", "notes.txt", "a%2Fb.pdf"} {
		req := httptest.NewRequest(http.MethodGet, "/api/download?file="+file, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("file %q: expected 400, got %d", file, rec.Code)
		}
	}

	if fetcher.calls != 0 {
		t.Fatalf("expected zero fetches, got %d", fetcher.calls)
	}
}

func TestDownloadUpstreamFailure(t *testing.T) {
	fetcher := &stubFetcher{err: gateway.ErrUpstreamUnavailable}
	server := newTestServer(&stubRelayer{}, fetcher)

	req := httptest.NewRequest(http.MethodGet, "/api/download?file=report.pdf", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	server := newTestServer(&stubRelayer{}, &stubFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"n8nConfigured":true`) {
		t.Fatalf("unexpected health payload %s", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(&stubRelayer{}, &stubFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/api/chat/message", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", got)
	}
}
