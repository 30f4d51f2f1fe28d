package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/serroba/docsync/internal/crdt"
	"github.com/serroba/docsync/internal/storage"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID string `json:"id"`
}

// ListDocumentsResponse is the response body for listing documents.
type ListDocumentsResponse struct {
	IDs []string `json:"ids"`
}

// DocumentResponse describes one document version.
type DocumentResponse struct {
	ID     string            `json:"id"`
	Clock  map[string]uint64 `json:"clock"`
	Values map[string]string `json:"values"`
}

// ChangeRequest is the request body for editing a document.
type ChangeRequest struct {
	Set    map[string]string `json:"set,omitempty"`
	Delete []string          `json:"delete,omitempty"`
}

// handleDocuments routes GET and POST requests for /documents.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, ListDocumentsResponse{IDs: nonNil(s.agent.IDs())})
	case http.MethodPost:
		s.handleCreateDocument(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDocumentByID routes /documents/{id} and /documents/{id}/changes.
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	rest := extractDocID(r.URL.Path, "/documents/")

	if id, ok := strings.CutSuffix(rest, "/changes"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

			return
		}

		s.handleChangeDocument(w, r, id)

		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	s.handleGetDocument(w, r, rest)
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ID == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	created, err := s.agent.Create(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if !created {
		s.writeError(w, r, storage.ErrDocumentExists)

		return
	}

	doc, _ := s.agent.Doc(req.ID)
	s.writeJSON(w, http.StatusCreated, documentResponse(req.ID, doc))
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	doc, ok := s.agent.Doc(id)
	if !ok {
		s.writeError(w, r, storage.ErrDocumentNotFound)

		return
	}

	s.writeJSON(w, http.StatusOK, documentResponse(id, doc))
}

// handleChangeDocument handles POST /documents/{id}/changes.
func (s *Server) handleChangeDocument(w http.ResponseWriter, r *http.Request, id string) {
	if id == "" {
		http.Error(w, "document ID is required", http.StatusBadRequest)

		return
	}

	var req ChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.Set) == 0 && len(req.Delete) == 0 {
		http.Error(w, "change is empty", http.StatusBadRequest)

		return
	}

	changed, err := s.agent.Change(r.Context(), id, func(e crdt.Editor) {
		for key, value := range req.Set {
			e.Set(key, value)
		}

		for _, key := range req.Delete {
			e.Delete(key)
		}
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if !changed {
		s.writeError(w, r, storage.ErrDocumentNotFound)

		return
	}

	doc, _ := s.agent.Doc(id)
	s.writeJSON(w, http.StatusOK, documentResponse(id, doc))
}

func documentResponse(id string, doc crdt.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:     id,
		Clock:  map[string]uint64{},
		Values: map[string]string{},
	}

	if doc == nil {
		return resp
	}

	for actor, n := range doc.Clock() {
		resp.Clock[actor] = n
	}

	for _, key := range doc.Keys() {
		if v, ok := doc.Get(key); ok {
			resp.Values[key] = v
		}
	}

	return resp
}

// extractDocID extracts the document ID from a URL path.
func extractDocID(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}

	return strings.TrimPrefix(path, prefix)
}
