// Package api exposes the inspection core over REST/JSON. The core is
// transport-agnostic; this package only decodes requests, maps errors
// to status codes and projects paths for clients.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visual-aoi/backend/internal/golden"
	"github.com/visual-aoi/backend/internal/imagesource"
	"github.com/visual-aoi/backend/internal/inspection"
	"github.com/visual-aoi/backend/internal/pathmap"
	"github.com/visual-aoi/backend/internal/roi"
	"github.com/visual-aoi/backend/internal/session"
)

// APIServer exposes sessions, inspections and the golden library via
// REST/JSON.
type APIServer struct {
	sessions     *session.Manager
	orchestrator *inspection.Orchestrator
	store        *golden.Store
	projector    *pathmap.Projector
	logger       *log.Logger
}

func NewAPIServer(sessions *session.Manager, orchestrator *inspection.Orchestrator, store *golden.Store, projector *pathmap.Projector) *APIServer {
	return &APIServer{
		sessions:     sessions,
		orchestrator: orchestrator,
		store:        store,
		projector:    projector,
		logger:       log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *APIServer) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// --- Endpoints ---

	// 1. Operational
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// 2. Sessions & inspection
	r.HandleFunc("/session", s.handleCreateSession).Methods("POST")
	r.HandleFunc("/session/{session_id}", s.handleDestroySession).Methods("DELETE")
	r.HandleFunc("/session/{session_id}/inspect", s.handleInspect).Methods("POST")
	r.HandleFunc("/process_grouped_inspection", s.handleGroupedInspect).Methods("POST")

	// 3. Golden library
	r.HandleFunc("/golden/products", s.handleListProducts).Methods("GET")
	r.HandleFunc("/golden/{product}/roi/{idx}/samples", s.handleListSamples).Methods("GET")
	r.HandleFunc("/golden/{product}/roi/{idx}/samples", s.handleUploadSample).Methods("POST")
	r.HandleFunc("/golden/{product}/roi/{idx}/samples/{name}", s.handleDownloadSample).Methods("GET")
	r.HandleFunc("/golden/{product}/roi/{idx}/samples/{name}", s.handleDeleteSample).Methods("DELETE")
	r.HandleFunc("/golden/{product}/roi/{idx}/promote", s.handlePromote).Methods("POST")
	r.HandleFunc("/golden/{product}/roi/{idx}/restore", s.handleRestore).Methods("POST")

	return r
}

// Start serves the route table on the given port, blocking.
func (s *APIServer) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Printf("inspection API listening on %s", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.sessions.Count(),
	})
}

// --- Shared helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// fail maps core errors onto HTTP statuses. Unknown errors are 500s.
func (s *APIServer) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionUnknown):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, imagesource.ErrSourceMissing),
		errors.Is(err, imagesource.ErrSourceMalformed):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, imagesource.ErrSourceNotFound),
		errors.Is(err, imagesource.ErrSourceUnreadable):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, roi.ErrConfigInvalid):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, golden.ErrNoGolden):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, golden.ErrLastSample):
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}
