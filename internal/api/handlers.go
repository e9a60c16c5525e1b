package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/visual-aoi/backend/internal/inspection"
)

// CreateSessionRequest creates one session per unit under test.
type CreateSessionRequest struct {
	ProductID  string `json:"product_id"`
	ClientInfo string `json:"client_info,omitempty"`
}

func (s *APIServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.ProductID == "" {
		http.Error(w, "product_id is required", http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Create(req.ProductID, req.ClientInfo)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": sess.ID,
		"input_dir":  s.projector.Project(sess.InputDir()),
		"output_dir": s.projector.Project(sess.OutputDir()),
	})
}

func (s *APIServer) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]
	if err := s.sessions.Destroy(id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed", "session_id": id})
}

func (s *APIServer) handleInspect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session_id"]

	var req inspection.InspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	report, err := s.orchestrator.Inspect(r.Context(), id, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *APIServer) handleGroupedInspect(w http.ResponseWriter, r *http.Request) {
	var req inspection.GroupedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if len(req.CapturedImages) == 0 {
		http.Error(w, "captured_images must not be empty", http.StatusBadRequest)
		return
	}

	report, err := s.orchestrator.GroupedInspect(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
