package handlers

import (
	"log"
	"net/http"
	"strings"

	"fleet-route-planner/internal/models"
)

// HandleProjects handles GET and POST /api/v1/projects
func (h *Handler) HandleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listProjects(w, r)
	case http.MethodPost:
		h.createProject(w, r)
	default:
		h.methodNotAllowed(w)
	}
}

// HandleProjectByID handles DELETE /api/v1/projects/{id}
func (h *Handler) HandleProjectByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/projects/")
	if id == "" || strings.Contains(id, "/") {
		h.writeError(w, http.StatusNotFound, "NotFound", "project not found", nil)
		return
	}
	switch r.Method {
	case http.MethodDelete:
		h.deleteProject(w, r, id)
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.DB.Projects().List(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if !h.readJSON(w, r, &body) {
		return
	}
	if !models.IsValidID(body.ID) {
		h.writeError(w, http.StatusBadRequest, "BadInput", "project id must match ^[A-Za-z0-9_-]+$ and be at most 50 characters", nil)
		return
	}
	project, err := h.DB.Projects().Create(r.Context(), body.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	log.Printf("[PROJECTS] Created project %s", project.ID)
	h.writeJSON(w, http.StatusCreated, project)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.DB.Projects().Delete(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}
	if err := h.Plans.DeleteProject(id); err != nil {
		h.handleError(w, err)
		return
	}
	log.Printf("[PROJECTS] Deleted project %s", id)
	w.WriteHeader(http.StatusNoContent)
}
