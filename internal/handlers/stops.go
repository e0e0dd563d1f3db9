package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"fleet-route-planner/internal/models"
)

// stopRequest is the create/update payload for a stop
type stopRequest struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Demand  int     `json:"demand"`
	IsDepot bool    `json:"is_depot"`
}

func (req *stopRequest) validate() (string, bool) {
	if req.Name == "" {
		return "stop name is required", false
	}
	if req.Lon < -180 || req.Lon > 180 {
		return "longitude must be between -180 and 180", false
	}
	if req.Lat < -90 || req.Lat > 90 {
		return "latitude must be between -90 and 90", false
	}
	if req.Demand < 0 {
		return "demand must be non-negative", false
	}
	if req.IsDepot && req.Demand != 0 {
		return "depot demand must be 0", false
	}
	return "", true
}

// HandleStops handles GET and POST /api/v1/stops
func (h *Handler) HandleStops(w http.ResponseWriter, r *http.Request) {
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.listStops(w, r, projectID)
	case http.MethodPost:
		h.createStop(w, r, projectID)
	default:
		h.methodNotAllowed(w)
	}
}

// HandleStopByID handles PUT and DELETE /api/v1/stops/{id}
func (h *Handler) HandleStopByID(w http.ResponseWriter, r *http.Request) {
	stopID := strings.TrimPrefix(r.URL.Path, "/api/v1/stops/")
	if stopID == "" || strings.Contains(stopID, "/") {
		h.writeError(w, http.StatusNotFound, "NotFound", "stop not found", nil)
		return
	}
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	switch r.Method {
	case http.MethodPut:
		h.updateStop(w, r, projectID, stopID)
	case http.MethodDelete:
		h.deleteStop(w, r, projectID, stopID)
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) listStops(w http.ResponseWriter, r *http.Request, projectID string) {
	stops, err := h.DB.Stops().List(r.Context(), projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"stops": stops})
}

func (h *Handler) createStop(w http.ResponseWriter, r *http.Request, projectID string) {
	var req stopRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if msg, ok := req.validate(); !ok {
		h.writeError(w, http.StatusBadRequest, "BadInput", msg, nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	stop := &models.Stop{
		ID:      req.ID,
		Name:    req.Name,
		Lon:     req.Lon,
		Lat:     req.Lat,
		Demand:  req.Demand,
		IsDepot: req.IsDepot,
	}
	created, err := h.DB.Stops().Create(r.Context(), projectID, stop)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := h.Plans.InvalidateMaterializations(projectID); err != nil {
		log.Printf("[ERROR] Failed to invalidate materializations for project %s: %v", projectID, err)
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateStop(w http.ResponseWriter, r *http.Request, projectID, stopID string) {
	var req stopRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	if msg, ok := req.validate(); !ok {
		h.writeError(w, http.StatusBadRequest, "BadInput", msg, nil)
		return
	}

	existing, err := h.DB.Stops().GetByID(r.Context(), projectID, stopID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if req.IsDepot != existing.IsDepot {
		h.writeError(w, http.StatusBadRequest, "BadInput", "a stop cannot change its depot flag", nil)
		return
	}

	stop := &models.Stop{
		ID:      stopID,
		Name:    req.Name,
		Lon:     req.Lon,
		Lat:     req.Lat,
		Demand:  req.Demand,
		IsDepot: existing.IsDepot,
	}
	updated, err := h.DB.Stops().Update(r.Context(), projectID, stop)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if err := h.Plans.InvalidateMaterializations(projectID); err != nil {
		log.Printf("[ERROR] Failed to invalidate materializations for project %s: %v", projectID, err)
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteStop(w http.ResponseWriter, r *http.Request, projectID, stopID string) {
	if err := h.DB.Stops().Delete(r.Context(), projectID, stopID); err != nil {
		h.handleError(w, err)
		return
	}
	if err := h.Plans.InvalidateMaterializations(projectID); err != nil {
		log.Printf("[ERROR] Failed to invalidate materializations for project %s: %v", projectID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}
