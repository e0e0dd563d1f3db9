package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/delta"
	"fleet-route-planner/internal/models"
)

// HandleEdits handles GET and POST /api/v1/edits
func (h *Handler) HandleEdits(w http.ResponseWriter, r *http.Request) {
	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.listEdits(w, projectID)
	case http.MethodPost:
		h.createEdit(w, r, projectID)
	default:
		h.methodNotAllowed(w)
	}
}

// HandleEditByID dispatches /api/v1/edits/{editId} and its subroutes
// reload, order and stop-location
func (h *Handler) HandleEditByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/edits/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		h.writeError(w, http.StatusNotFound, "NotFound", "edit scenario not found", nil)
		return
	}

	projectID := h.requireProject(w, r)
	if projectID == "" {
		return
	}
	editID := h.editID(w, parts[0])
	if editID == "" {
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.getEdit(w, projectID, editID)
		case http.MethodDelete:
			h.deleteEdit(w, projectID, editID)
		default:
			h.methodNotAllowed(w)
		}
	case "reload":
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w)
			return
		}
		h.reloadEdit(w, r, projectID, editID)
	case "order":
		if r.Method != http.MethodPut {
			h.methodNotAllowed(w)
			return
		}
		h.updateEditOrder(w, r, projectID, editID)
	case "stop-location":
		if r.Method != http.MethodPut {
			h.methodNotAllowed(w)
			return
		}
		h.updateEditStopLocation(w, r, projectID, editID)
	default:
		h.writeError(w, http.StatusNotFound, "NotFound", "unknown edit operation: "+action, nil)
	}
}

func (h *Handler) requireScenario(w http.ResponseWriter, projectID, editID string) bool {
	if editID == models.BaselineScenarioID {
		return true
	}
	if !h.Plans.ScenarioExists(projectID, editID) {
		h.writeError(w, http.StatusNotFound, "NotFound", "edit scenario not found: "+editID, nil)
		return false
	}
	return true
}

func (h *Handler) listEdits(w http.ResponseWriter, projectID string) {
	scenarios, err := h.Plans.ListScenarios(projectID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"edits": scenarios})
}

func (h *Handler) createEdit(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		ID       string `json:"id"`
		SourceID string `json:"source_id"`
	}
	if !h.readJSON(w, r, &body) {
		return
	}
	if !models.IsValidID(body.ID) {
		h.writeError(w, http.StatusBadRequest, "BadInput", "edit id must match ^[A-Za-z0-9_-]+$ and be at most 50 characters", nil)
		return
	}
	scenario, err := h.Plans.CreateScenario(projectID, body.ID, body.SourceID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	log.Printf("[PLANS] Created edit scenario %s/%s from %s", projectID, scenario.ID, scenario.SourceID)
	h.writeJSON(w, http.StatusCreated, scenario)
}

func (h *Handler) getEdit(w http.ResponseWriter, projectID, editID string) {
	if !h.requireScenario(w, projectID, editID) {
		return
	}
	rows, err := h.Plans.ReadPlanRows(projectID, editID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	resp := map[string]interface{}{
		"id":   editID,
		"plan": rows,
	}
	if artifact, err := h.Plans.ReadArtifact(projectID, editID); err == nil {
		resp["artifact"] = artifact
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteEdit(w http.ResponseWriter, projectID, editID string) {
	if err := h.Plans.DeleteScenario(projectID, editID); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reloadEdit(w http.ResponseWriter, r *http.Request, projectID, editID string) {
	if !h.requireScenario(w, projectID, editID) {
		return
	}
	req, ok := h.readParams(w, r)
	if !ok {
		return
	}

	params := req.merge(h.storedParams(projectID, editID))
	artifact, stats, err := h.Engine.Reload(r.Context(), projectID, editID, params)
	h.writeDeltaResult(w, artifact, stats, err)
}

// updateEditOrder replaces the scenario's tabular plan from the request's
// full order. Tabular only: the provider is never called here; geometry
// refresh happens on the next reload.
func (h *Handler) updateEditOrder(w http.ResponseWriter, r *http.Request, projectID, editID string) {
	if !h.requireScenario(w, projectID, editID) {
		return
	}
	var body struct {
		Rows []models.EditPlanRow `json:"rows"`
	}
	if !h.readJSON(w, r, &body) {
		return
	}
	if err := h.validateOrder(r, projectID, body.Rows); err != nil {
		var bad *errBadOrder
		if errors.As(err, &bad) {
			h.writeError(w, http.StatusBadRequest, "BadInput", bad.reason, nil)
			return
		}
		h.handleError(w, err)
		return
	}
	if err := h.Plans.WriteEditPlan(projectID, editID, body.Rows); err != nil {
		h.handleError(w, err)
		return
	}
	log.Printf("[PLANS] Reordered edit scenario %s/%s: %d rows", projectID, editID, len(body.Rows))
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rows": len(body.Rows)})
}

// validateOrder checks that the submitted rows form a complete, contiguous
// tabular plan: orders 1..n per vehicle, no duplicate stop ids, every stop
// id present in the project's stop set
func (h *Handler) validateOrder(r *http.Request, projectID string, rows []models.EditPlanRow) error {
	if len(rows) == 0 {
		return &errBadOrder{"no rows provided"}
	}

	stops, err := h.DB.Stops().List(r.Context(), projectID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(stops))
	for _, s := range stops {
		if !s.IsDepot {
			known[s.ID] = true
		}
	}

	seen := make(map[string]bool, len(rows))
	byVehicle := make(map[int][]int)
	var missing []string
	for _, row := range rows {
		if row.StopID == "" {
			return &errBadOrder{"row has empty stop id"}
		}
		if row.VehicleID <= 0 {
			return &errBadOrder{fmt.Sprintf("row for stop %s has invalid vehicle id %d", row.StopID, row.VehicleID)}
		}
		if row.StopOrder <= 0 {
			return &errBadOrder{fmt.Sprintf("row for stop %s has invalid stop order %d", row.StopID, row.StopOrder)}
		}
		if seen[row.StopID] {
			return &errBadOrder{fmt.Sprintf("stop %s appears more than once", row.StopID)}
		}
		seen[row.StopID] = true
		if !known[row.StopID] {
			missing = append(missing, row.StopID)
			continue
		}
		byVehicle[row.VehicleID] = append(byVehicle[row.VehicleID], row.StopOrder)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &delta.ErrStaleReference{StopIDs: missing}
	}

	for vehicleID, orders := range byVehicle {
		sort.Ints(orders)
		for i, order := range orders {
			if order != i+1 {
				return &errBadOrder{fmt.Sprintf("vehicle %d stop orders are not contiguous from 1", vehicleID)}
			}
		}
	}
	return nil
}

// errBadOrder reports a malformed reorder payload
type errBadOrder struct {
	reason string
}

func (e *errBadOrder) Error() string {
	return e.reason
}

// updateEditStopLocation persists a scenario-local coordinate override.
// The global stop set is untouched; dependent vehicles regenerate on the
// next reload through the fingerprint change.
func (h *Handler) updateEditStopLocation(w http.ResponseWriter, r *http.Request, projectID, editID string) {
	if !h.requireScenario(w, projectID, editID) {
		return
	}
	var body struct {
		StopID string  `json:"stop_id"`
		Lon    float64 `json:"lon"`
		Lat    float64 `json:"lat"`
	}
	if !h.readJSON(w, r, &body) {
		return
	}
	if body.StopID == "" {
		h.writeError(w, http.StatusBadRequest, "BadInput", "stop_id is required", nil)
		return
	}
	if body.Lon < -180 || body.Lon > 180 || body.Lat < -90 || body.Lat > 90 {
		h.writeError(w, http.StatusBadRequest, "BadInput", "coordinates out of range", nil)
		return
	}
	if _, err := h.DB.Stops().GetByID(r.Context(), projectID, body.StopID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.handleError(w, &delta.ErrStaleReference{StopIDs: []string{body.StopID}})
			return
		}
		h.handleError(w, err)
		return
	}

	overrides, err := h.Plans.ReadOverrides(projectID, editID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	overrides[body.StopID] = models.Coordinates{Lon: body.Lon, Lat: body.Lat}
	if err := h.Plans.WriteOverrides(projectID, editID, overrides); err != nil {
		h.handleError(w, err)
		return
	}
	log.Printf("[PLANS] Override %s/%s: stop %s moved to (%.6f, %.6f)", projectID, editID, body.StopID, body.Lon, body.Lat)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"overrides": len(overrides)})
}
