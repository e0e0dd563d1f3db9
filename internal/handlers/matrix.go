package handlers

import (
	"log"
	"net/http"
	"time"

	"fleet-route-planner/internal/models"
)

// matrixMetadata is the GET /matrix response: snapshot identity plus a
// staleness verdict against the project's current stop set
type matrixMetadata struct {
	ProjectID string `json:"project_id"`
	Hash      string `json:"hash"`
	StopHash  string `json:"stop_hash"`
	Dimension int    `json:"dimension"`
	CreatedAt string `json:"created_at"`
	Stale     bool   `json:"stale"`
}

// HandleMatrix handles GET and PUT /api/v1/matrix
func (h *Handler) HandleMatrix(w http.ResponseWriter, r *http.Request) {
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.getMatrix(w, r, projectID)
	case http.MethodPut:
		h.putMatrix(w, r, projectID)
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) getMatrix(w http.ResponseWriter, r *http.Request, projectID string) {
	snap, err := h.DB.Matrices().Get(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	stops, err := h.DB.Stops().List(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, matrixMetadata{
		ProjectID: snap.ProjectID,
		Hash:      snap.Hash,
		StopHash:  snap.StopHash,
		Dimension: snap.Dimension,
		CreatedAt: snap.CreatedAt.UTC().Format(time.RFC3339),
		Stale:     snap.StopHash != models.StopSetHash(stops),
	})
}

func (h *Handler) putMatrix(w http.ResponseWriter, r *http.Request, projectID string) {
	var pair models.MatrixPair
	if !h.readJSON(w, r, &pair) {
		return
	}

	stops, err := h.DB.Stops().List(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if len(stops) == 0 {
		h.writeError(w, http.StatusBadRequest, "BadInput", "project has no stops to snapshot a matrix against", nil)
		return
	}
	if err := pair.Validate(len(stops)); err != nil {
		h.writeError(w, http.StatusBadRequest, "BadInput", err.Error(), nil)
		return
	}

	snap, err := h.DB.Matrices().Put(r.Context(), projectID, &pair, models.StopSetHash(stops))
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := h.Plans.InvalidateMaterializations(projectID); err != nil {
		log.Printf("[ERROR] Failed to invalidate materializations for project %s: %v", projectID, err)
	}
	log.Printf("[MATRIX] Stored %dx%d snapshot for project %s hash=%.12s",
		snap.Dimension, snap.Dimension, projectID, snap.Hash)
	h.writeJSON(w, http.StatusOK, matrixMetadata{
		ProjectID: snap.ProjectID,
		Hash:      snap.Hash,
		StopHash:  snap.StopHash,
		Dimension: snap.Dimension,
		CreatedAt: snap.CreatedAt.UTC().Format(time.RFC3339),
	})
}
