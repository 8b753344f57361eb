package httpapi

import (
	"net/http"
	"strings"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/tracker"
)

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type collaboratorRequest struct {
	UserID string `json:"user_id"`
}

type permissionRequest struct {
	UserID string `json:"user_id"`
	Level  string `json:"level"`
}

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createProject(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getProject(w, r, id)
		case http.MethodPatch:
			a.updateProject(w, r, id)
		case http.MethodDelete:
			a.deleteProject(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case "archive":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.archiveProject(w, r, id)
	case "collaborators":
		switch r.Method {
		case http.MethodPost:
			a.addCollaborator(w, r, id)
		case http.MethodDelete:
			a.removeCollaborator(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		}
	case "permissions":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setPermission(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > 128 {
		writeError(w, r, http.StatusBadRequest, "name must be 1-128 characters")
		return
	}

	project := &tracker.Project{
		CreatorID:   principal.ID,
		Name:        name,
		Description: req.Description,
	}
	if err := a.store.CreateProject(r.Context(), project); err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "tracker.project.create", map[string]any{
		"project_id": project.ID,
	})

	w.Header().Set("Location", "/v1/projects/"+project.ID)
	writeJSON(w, http.StatusCreated, project)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionView); !ok {
		return
	}
	project, err := a.store.Project(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionModify); !ok {
		return
	}

	var req updateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > 128 {
			writeError(w, r, http.StatusBadRequest, "name must be 1-128 characters")
			return
		}
		req.Name = &name
	}

	project, err := a.store.UpdateProject(r.Context(), id, tracker.ProjectUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "tracker.project.update", map[string]any{
		"project_id": id,
	})
	writeJSON(w, http.StatusOK, project)
}

func (a *API) archiveProject(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionArchive); !ok {
		return
	}
	archived := true
	project, err := a.store.UpdateProject(r.Context(), id, tracker.ProjectUpdate{Archived: &archived})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.project.archive", map[string]any{
		"project_id": id,
	})
	writeJSON(w, http.StatusOK, project)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionDelete); !ok {
		return
	}
	if err := a.store.DeleteProject(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.project.delete", map[string]any{
		"project_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (a *API) addCollaborator(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionManageCollaborators); !ok {
		return
	}

	var req collaboratorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := a.store.AddCollaborator(r.Context(), id, userID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.project.collaborator.add", map[string]any{
		"project_id": id,
		"target":     userID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "added"})
}

func (a *API) removeCollaborator(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionManageCollaborators); !ok {
		return
	}

	var req collaboratorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := a.store.RemoveCollaborator(r.Context(), id, userID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.project.collaborator.remove", map[string]any{
		"project_id": id,
		"target":     userID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "removed"})
}

func (a *API) setPermission(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Project(id), authz.ActionManageCollaborators); !ok {
		return
	}

	var req permissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	level := authz.Permission(strings.ToUpper(strings.TrimSpace(req.Level)))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user_id is required")
		return
	}
	if !level.Valid() {
		writeError(w, r, http.StatusBadRequest, "level must be READ, WRITE, DELETE or ADMIN")
		return
	}

	if err := a.store.SetPermission(r.Context(), id, userID, string(level)); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.project.permission.set", map[string]any{
		"project_id": id,
		"target":     userID,
		"level":      string(level),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "set"})
}
