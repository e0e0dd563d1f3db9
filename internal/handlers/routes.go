package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"fleet-route-planner/internal/delta"
	"fleet-route-planner/internal/models"
)

// paramsRequest is the materialize/reload payload. Fields are pointers so
// an omitted field can fall back to the scenario's stored params instead
// of clobbering them with zero values.
type paramsRequest struct {
	SearchOption *string           `json:"search_option"`
	VehicleClass *string           `json:"vehicle_class"`
	DepartAt     *time.Time        `json:"depart_at"`
	ViaDwellSecs *int              `json:"via_dwell_seconds"`
	RouteMode    *models.RouteMode `json:"route_mode"`
}

func (pr *paramsRequest) merge(base models.MaterializeParams) models.MaterializeParams {
	if pr.SearchOption != nil {
		base.SearchOption = *pr.SearchOption
	}
	if pr.VehicleClass != nil {
		base.VehicleClass = *pr.VehicleClass
	}
	if pr.DepartAt != nil {
		base.DepartAt = *pr.DepartAt
	}
	if pr.ViaDwellSecs != nil {
		base.ViaDwellSecs = *pr.ViaDwellSecs
	}
	if pr.RouteMode != nil {
		base.RouteMode = *pr.RouteMode
	}
	return base
}

// readParams decodes a params body, tolerating an empty body
func (h *Handler) readParams(w http.ResponseWriter, r *http.Request) (*paramsRequest, bool) {
	var req paramsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "BadInput", "invalid request body: "+err.Error(), nil)
		return nil, false
	}
	return &req, true
}

// storedParams returns the scenario's cached artifact params, or zero
// params (documented defaults after normalization) when no artifact exists
func (h *Handler) storedParams(projectID, editID string) models.MaterializeParams {
	artifact, err := h.Plans.ReadArtifact(projectID, editID)
	if err != nil {
		return models.MaterializeParams{}
	}
	return artifact.Params
}

// deltaResult is the reload/materialize response body. A partial outcome
// is a degraded success: HTTP 200 with the code annotation set.
type deltaResult struct {
	Code     string               `json:"code,omitempty"`
	Stats    *models.DeltaStats   `json:"stats"`
	Artifact *models.PlanArtifact `json:"artifact"`
}

// writeDeltaResult maps an engine outcome to the wire: partial failures
// are HTTP 200 with a body annotation, everything else goes through the
// central error mapping
func (h *Handler) writeDeltaResult(w http.ResponseWriter, artifact *models.PlanArtifact, stats *models.DeltaStats, err error) {
	if err != nil {
		var partial *delta.ErrPartialMaterialization
		if errors.As(err, &partial) {
			h.writeJSON(w, http.StatusOK, deltaResult{
				Code:     "PartialMaterialization",
				Stats:    stats,
				Artifact: artifact,
			})
			return
		}
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deltaResult{Stats: stats, Artifact: artifact})
}

// HandleRoutes handles GET /api/v1/routes?editId=
func (h *Handler) HandleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	editID := h.editID(w, r.URL.Query().Get("editId"))
	if editID == "" {
		return
	}

	artifact, err := h.Plans.ReadArtifact(projectID, editID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, artifact)
}

// HandleMaterialize handles POST /api/v1/routes/materialize: a forced full
// baseline materialization ignoring cached fingerprints
func (h *Handler) HandleMaterialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	req, ok := h.readParams(w, r)
	if !ok {
		return
	}

	params := req.merge(h.storedParams(projectID, models.BaselineScenarioID))
	artifact, stats, err := h.Engine.Materialize(r.Context(), projectID, models.BaselineScenarioID, params)
	h.writeDeltaResult(w, artifact, stats, err)
}
