package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/visual-aoi/backend/internal/golden"
)

// Golden library CRUD. The matcher itself never goes through these
// endpoints; they exist for operators curating the sample sets.

func goldenVars(r *http.Request) (product string, idx int, ok bool) {
	vars := mux.Vars(r)
	product = vars["product"]
	idx, err := strconv.Atoi(vars["idx"])
	if err != nil || idx <= 0 || product == "" {
		return "", 0, false
	}
	return product, idx, true
}

// sampleName rejects anything that could escape the ROI directory.
func sampleName(r *http.Request) (string, bool) {
	name := mux.Vars(r)["name"]
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}

func (s *APIServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func (s *APIServer) handleListSamples(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}

	samples, err := s.store.Samples(product, idx)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"product": product,
		"roi_idx": idx,
		"samples": samples,
	})
}

func (s *APIServer) handleDownloadSample(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}
	name, ok := sampleName(r)
	if !ok {
		http.Error(w, "invalid sample name", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.store.ROIDir(product, idx), name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, golden.ErrNoGolden)
			return
		}
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// UploadSampleRequest carries a new golden image, base64-encoded.
type UploadSampleRequest struct {
	Image    string `json:"image"`
	MakeBest bool   `json:"make_best,omitempty"`
}

func (s *APIServer) handleUploadSample(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}

	var req UploadSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(data) == 0 {
		http.Error(w, "image must be non-empty base64", http.StatusBadRequest)
		return
	}

	name, err := s.store.Upload(product, idx, data, req.MakeBest)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

// PromoteRequest names the alternate to install as best.
type PromoteRequest struct {
	Name string `json:"name"`
}

func (s *APIServer) handlePromote(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}
	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := s.store.Promote(product, idx, req.Name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "promoted", "best": golden.BestName})
}

func (s *APIServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}
	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := s.store.Restore(product, idx, req.Name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored", "best": golden.BestName})
}

func (s *APIServer) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	product, idx, ok := goldenVars(r)
	if !ok {
		http.Error(w, "invalid product or roi idx", http.StatusBadRequest)
		return
	}
	name, ok := sampleName(r)
	if !ok {
		http.Error(w, "invalid sample name", http.StatusBadRequest)
		return
	}

	if err := s.store.Delete(product, idx, name); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}
