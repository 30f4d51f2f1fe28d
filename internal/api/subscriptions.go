package api

import (
	"encoding/json"
	"net/http"
)

// SubscriptionsRequest is the request body for POST and DELETE
// /subscriptions.
type SubscriptionsRequest struct {
	IDs []string `json:"ids"`
}

// SubscriptionsResponse lists document IDs.
type SubscriptionsResponse struct {
	IDs []string `json:"ids"`
}

// handleSubscriptions routes GET, POST and DELETE for /subscriptions.
func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.writeJSON(w, http.StatusOK, SubscriptionsResponse{IDs: nonNil(s.agent.Pending())})

		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	var req SubscriptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if len(req.IDs) == 0 {
		http.Error(w, "ids are required", http.StatusBadRequest)

		return
	}

	update := s.agent.Subscribe
	if r.Method == http.MethodDelete {
		update = s.agent.Unsubscribe
	}

	ids, err := update(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, http.StatusOK, SubscriptionsResponse{IDs: nonNil(ids)})
}
