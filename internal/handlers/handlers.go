package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/delta"
	"fleet-route-planner/internal/materialize"
	"fleet-route-planner/internal/models"
	"fleet-route-planner/internal/planstore"
	"fleet-route-planner/internal/tmap"
	"fleet-route-planner/internal/vrp"
)

// Handler provides common handler utilities and dependencies
type Handler struct {
	DB     database.DataStore
	Plans  *planstore.Store
	Solver vrp.Solver
	Engine *delta.Engine
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	h.writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// readJSON decodes a JSON request body
func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "BadInput", "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// projectID extracts the project selector from the projectId query
// parameter or the X-Project-ID header and validates its shape. Returns
// "" after writing the error response when absent or malformed.
func (h *Handler) projectID(w http.ResponseWriter, r *http.Request) string {
	id := r.URL.Query().Get("projectId")
	if id == "" {
		id = r.Header.Get("X-Project-ID")
	}
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "BadInput", "project id is required (projectId query parameter or X-Project-ID header)", nil)
		return ""
	}
	if !models.IsValidID(id) {
		h.writeError(w, http.StatusBadRequest, "BadInput", "project id must match ^[A-Za-z0-9_-]+$ and be at most 50 characters", nil)
		return ""
	}
	return id
}

// requireProject resolves and verifies the project selector. Returns ""
// after writing the error response when the project does not exist.
func (h *Handler) requireProject(w http.ResponseWriter, r *http.Request) string {
	id := h.projectID(w, r)
	if id == "" {
		return ""
	}
	exists, err := h.DB.Projects().Exists(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return ""
	}
	if !exists {
		h.writeError(w, http.StatusNotFound, "NotFound", "project not found: "+id, nil)
		return ""
	}
	return id
}

// editID validates an edit scenario id taken from the path or query
func (h *Handler) editID(w http.ResponseWriter, id string) string {
	if id == "" {
		return models.BaselineScenarioID
	}
	if !models.IsValidID(id) {
		h.writeError(w, http.StatusBadRequest, "BadInput", "edit id must match ^[A-Za-z0-9_-]+$ and be at most 50 characters", nil)
		return ""
	}
	return id
}

// handleError maps a typed error to the stable error-code envelope in one
// place; everything the packages below can return lands here
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var badInput *vrp.ErrBadInput
	var infeasible *vrp.ErrInfeasible
	var noSolution *vrp.ErrNoSolution
	var invalidReq *tmap.ErrInvalidRequest
	var unavailable *tmap.ErrProviderUnavailable
	var allFailed *materialize.ErrAllVehiclesFailed
	var stale *delta.ErrStaleReference

	switch {
	case errors.As(err, &badInput):
		h.writeError(w, http.StatusBadRequest, "BadInput", badInput.Reason, nil)
	case errors.As(err, &infeasible):
		details := map[string]interface{}{
			"total_demand":   infeasible.TotalDemand,
			"total_capacity": infeasible.TotalCapacity,
		}
		if infeasible.StopID != "" {
			details["stop_id"] = infeasible.StopID
		}
		h.writeError(w, http.StatusUnprocessableEntity, "Infeasible", err.Error(), details)
	case errors.As(err, &noSolution):
		h.writeError(w, http.StatusUnprocessableEntity, "NoSolution", err.Error(), nil)
	case errors.As(err, &invalidReq):
		h.writeError(w, http.StatusBadRequest, "BadInput", invalidReq.Reason, nil)
	case errors.As(err, &unavailable):
		h.writeError(w, http.StatusBadGateway, "ProviderUnavailable", err.Error(), nil)
	case errors.As(err, &allFailed):
		h.writeError(w, http.StatusBadGateway, "ProviderUnavailable", err.Error(), nil)
	case errors.As(err, &stale):
		h.writeError(w, http.StatusConflict, "StaleReference", err.Error(), map[string]interface{}{
			"missing_stop_ids": stale.StopIDs,
		})
	case errors.Is(err, database.ErrStaleMatrix):
		h.writeError(w, http.StatusConflict, "StaleMatrix", "stop set changed since the matrix snapshot was stored", nil)
	case errors.Is(err, database.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "NotFound", err.Error(), nil)
	case errors.Is(err, database.ErrAlreadyExists),
		errors.Is(err, database.ErrDepotExists),
		errors.Is(err, database.ErrDepotInUse),
		errors.Is(err, planstore.ErrBaselineProtected):
		h.writeError(w, http.StatusBadRequest, "BadInput", err.Error(), nil)
	default:
		log.Printf("[ERROR] Unhandled error: %v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal", "internal server error", nil)
	}
}

// methodNotAllowed is the shared default for unmatched methods
func (h *Handler) methodNotAllowed(w http.ResponseWriter) {
	h.writeError(w, http.StatusMethodNotAllowed, "BadInput", "method not allowed", nil)
}

// HandleHealth reports liveness and store health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	if err := h.DB.HealthCheck(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "Internal", "store health check failed", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
