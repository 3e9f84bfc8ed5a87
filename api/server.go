package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/lumic/docchat/citation"
	"github.com/lumic/docchat/config"
	"github.com/lumic/docchat/gateway"
	"github.com/lumic/docchat/relay"
)

// genericFailureText is the only failure message end users see for upstream
// problems; the underlying kind stays in the logs.
const genericFailureText = "An error occurred. Please try again later."

// Relayer forwards a chat message to the answer service.
type Relayer interface {
	Send(ctx context.Context, message, conversationID string) (relay.Reply, error)
}

// DocumentFetcher retrieves a document stream from the document store.
type DocumentFetcher interface {
	Fetch(ctx context.Context, name string) (*gateway.Document, error)
}

// Server exposes the chat relay, document download proxy and health check.
type Server struct {
	cfg     config.Config
	relay   Relayer
	fetcher DocumentFetcher
	logger  *log.Logger
	handler http.Handler
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
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

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status        string `json:"status"`
	N8NConfigured bool   `json:"n8nConfigured"`
}

// New constructs a Server that serves the HTTP API using the provided
// collaborators.
func New(cfg config.Config, relayer Relayer, fetcher DocumentFetcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{cfg: cfg, relay: relayer, fetcher: fetcher, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/message", s.handleChatMessage)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	return mux
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message cannot be empty"))
		return
	}

	reply, err := s.relay.Send(r.Context(), req.Message, req.ConversationID)
	if err != nil {
		if errors.Is(err, relay.ErrEmptyMessage) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Printf("chat relay failed: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, chatEnvelope{Success: false, Error: genericFailureText})
		return
	}

	s.writeJSON(w, http.StatusOK, chatEnvelope{
		Success: true,
		Data:    &chatData{Response: reply.Response, Sources: reply.Sources},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	filename := r.URL.Query().Get("file")
	if filename == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("filename required"))
		return
	}

	doc, err := s.fetcher.Fetch(r.Context(), filename)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidIdentifier) {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid filename"))
			return
		}
		s.logger.Printf("document download failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("download failed"))
		return
	}
	defer doc.Body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	if doc.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.ContentLength, 10))
	}

	if _, err := io.Copy(w, doc.Body); err != nil {
		// Headers and possibly part of the body are already out; appending a
		// JSON error now would hand the caller a corrupt PDF. Drop the
		// connection instead.
		s.logger.Printf("document stream aborted for %s: %v", doc.Name, err)
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		N8NConfigured: s.cfg.WebhookURL != "",
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
