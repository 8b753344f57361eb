package httpapi

import (
	"net/http"
	"strings"
	"time"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/authz"
	"crewdesk.org/internal/stream"
	"crewdesk.org/internal/tracker"
)

type postMessageRequest struct {
	Body string `json:"body"`
}

type editMessageRequest struct {
	Body string `json:"body"`
}

type linkThreadRequest struct {
	TaskID string `json:"task_id"`
}

type threadMessagesResponse struct {
	ThreadKey string            `json:"thread_key"`
	Items     []tracker.Message `json:"items"`
}

const maxMessageLength = 4096

// handleThreadResource routes /v1/threads/{key}/... where the thread key
// itself may contain slashes, so the action segment is recognized by suffix.
func (a *API) handleThreadResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/threads/")

	if key, ok := strings.CutSuffix(path, "/messages"); ok && key != "" {
		switch r.Method {
		case http.MethodGet:
			a.listThreadMessages(w, r, key)
		case http.MethodPost:
			a.postMessage(w, r, key)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}
	if key, ok := strings.CutSuffix(path, "/events"); ok && key != "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.streamThread(w, r, key)
		return
	}
	if key, ok := strings.CutSuffix(path, "/link"); ok && key != "" {
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.linkThread(w, r, key)
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) handleMessageResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPatch:
		a.editMessage(w, r, id)
	case http.MethodDelete:
		a.deleteMessage(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listThreadMessages(w http.ResponseWriter, r *http.Request, key string) {
	if _, ok := a.authorize(w, r, authz.Thread(key), authz.ActionView); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.store.ThreadMessages(r.Context(), key, limit)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, threadMessagesResponse{ThreadKey: key, Items: items})
}

func (a *API) postMessage(w http.ResponseWriter, r *http.Request, key string) {
	principal, ok := a.authorize(w, r, authz.Thread(key), authz.ActionPost)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len(body) > maxMessageLength {
		writeError(w, r, http.StatusBadRequest, "body must be 1-4096 characters")
		return
	}

	msg := &tracker.Message{
		ThreadKey: key,
		AuthorID:  principal.ID,
		Body:      body,
	}
	if err := a.store.PostMessage(r.Context(), msg); err != nil {
		handleStoreError(w, r, err)
		return
	}

	a.publishMessageEvent("posted", *msg)
	_ = audit.LogEvent(r.Context(), "chat.message.post", map[string]any{
		"thread_key": key,
		"message_id": msg.ID,
	})

	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) editMessage(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Message(id), authz.ActionModify); !ok {
		return
	}

	var req editMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len(body) > maxMessageLength {
		writeError(w, r, http.StatusBadRequest, "body must be 1-4096 characters")
		return
	}

	msg, err := a.store.UpdateMessage(r.Context(), id, body)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	a.publishMessageEvent("edited", msg)
	_ = audit.LogEvent(r.Context(), "chat.message.edit", map[string]any{
		"message_id": id,
	})
	writeJSON(w, http.StatusOK, msg)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.authorize(w, r, authz.Message(id), authz.ActionDelete); !ok {
		return
	}

	msg, err := a.store.Message(r.Context(), id)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if err := a.store.DeleteMessage(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	msg.Deleted = true

	a.publishMessageEvent("deleted", msg)
	_ = audit.LogEvent(r.Context(), "chat.message.delete", map[string]any{
		"message_id": id,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// linkThread binds a thread to a task so the thread inherits the task's view
// policy. Requires modify access on the task.
func (a *API) linkThread(w http.ResponseWriter, r *http.Request, key string) {
	var req linkThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		writeError(w, r, http.StatusBadRequest, "task_id is required")
		return
	}
	if _, ok := a.authorize(w, r, authz.Task(taskID), authz.ActionModify); !ok {
		return
	}

	if err := a.store.LinkThread(r.Context(), key, taskID); err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "chat.thread.link", map[string]any{
		"thread_key": key,
		"task_id":    taskID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "linked"})
}

func (a *API) publishMessageEvent(kind string, msg tracker.Message) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(stream.MessageEvent{
		Type:      kind,
		ThreadKey: msg.ThreadKey,
		Message:   msg,
		Timestamp: time.Now().UTC(),
	})
}
