// Package api is the local control surface of the agent: an HTTP API to
// inspect and edit documents and manage subscriptions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/storage"
	"go.uber.org/zap"
)

// Agent is what the API drives. *collab.Client satisfies it.
type Agent interface {
	IDs() []string
	Doc(id string) (crdt.Document, bool)
	Create(ctx context.Context, id string) (bool, error)
	Change(ctx context.Context, id string, fn crdt.ChangeFunc) (bool, error)
	Subscribe(ctx context.Context, ids []string) ([]string, error)
	Unsubscribe(ctx context.Context, ids []string) ([]string, error)
	Pending() []string
	Connected() bool
	Actor() string
}

// Server handles HTTP requests for the control API.
type Server struct {
	agent  Agent
	logger *zap.Logger
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Agent  Agent
	Logger *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		agent:  cfg.Agent,
		logger: logger,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentByID)
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)

	return s.requestIDMiddleware(s.logMiddleware(mux))
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Connected bool     `json:"connected"`
	Actor     string   `json:"actor"`
	Documents int      `json:"documents"`
	Pending   []string `json:"pending"`
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	s.writeJSON(w, http.StatusOK, StatusResponse{
		Connected: s.agent.Connected(),
		Actor:     s.agent.Actor(),
		Documents: len(s.agent.IDs()),
		Pending:   nonNil(s.agent.Pending()),
	})
}

// writeError maps err to a status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrDocumentExists):
		http.Error(w, "document already exists", http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "request canceled", http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}

	return ids
}
