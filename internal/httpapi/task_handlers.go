package httpapi

import (
	"net/http"
	"strings"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/tracker"
)

type createTaskRequest struct {
	ProjectID string   `json:"project_id"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes"`
	Assignees []string `json:"assignees"`
}

type updateTaskRequest struct {
	Title     *string   `json:"title"`
	Notes     *string   `json:"notes"`
	Status    *string   `json:"status"`
	Assignees *[]string `json:"assignees"`
}

var taskStatuses = map[string]bool{
	"open":        true,
	"in_progress": true,
	"done":        true,
}

func (a *API) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTask(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleTaskResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTask(w, r, id)
	case http.MethodPatch:
		a.updateTask(w, r, id)
	case http.MethodDelete:
		a.deleteTask(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len(title) > 256 {
		writeError(w, r, http.StatusBadRequest, "title must be 1-256 characters")
		return
	}

	// Creating a task inside a project requires at least view access to
	// that project.
	if req.ProjectID != "" {
		if _, ok := a.authorize(w, r, authz.Project(req.ProjectID), authz.ActionView); !ok {
			return
		}
	}

	task := &tracker.Task{
		ProjectID: strings.TrimSpace(req.ProjectID),
		OwnerID:   principal.ID,
		Title:     title,
		Notes:     req.Notes,
		Assignees: req.Assignees,
	}
	if err := a.store.CreateTask(r.Context(), task); err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "tracker.task.create", map[string]any{
		"task_id": task.ID,
	})

	w.Header().Set("Location", "/v1/tasks/"+task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Task(id), authz.ActionView); !ok {
		return
	}
	task, err := a.store.Task(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Task(id), authz.ActionModify); !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || len(title) > 256 {
			writeError(w, r, http.StatusBadRequest, "title must be 1-256 characters")
			return
		}
		req.Title = &title
	}
	if req.Status != nil && !taskStatuses[*req.Status] {
		writeError(w, r, http.StatusBadRequest, "status must be open, in_progress or done")
		return
	}

	task, err := a.store.UpdateTask(r.Context(), id, tracker.TaskUpdate{
		Title:     req.Title,
		Notes:     req.Notes,
		Status:    req.Status,
		Assignees: req.Assignees,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "tracker.task.update", map[string]any{
		"task_id": id,
	})
	writeJSON(w, http.StatusOK, task)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Task(id), authz.ActionDelete); !ok {
		return
	}
	if err := a.store.DeleteTask(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "tracker.task.delete", map[string]any{
		"task_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
