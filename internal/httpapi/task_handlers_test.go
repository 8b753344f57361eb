package httpapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/tracker"
)

func createTask(t *testing.T, env *testEnv, token, body string) tracker.Task {
	t.Helper()
	rr := env.do(t, http.MethodPost, "/v1/tasks", token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var task tracker.Task
	if err := json.Unmarshal(rr.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "owner", auth.RoleMember)
	stranger := env.addUser(t, "stranger", auth.RoleMember)

	task := createTask(t, env, owner, `{"title":"ship the release","assignees":["helper"]}`)
	if task.OwnerID != "owner" {
		t.Fatalf("owner not recorded: %+v", task)
	}

	// Owner reads it, a stranger gets 403.
	if rr := env.do(t, http.MethodGet, "/v1/tasks/"+task.ID, owner, ""); rr.Code != http.StatusOK {
		t.Fatalf("owner read: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/tasks/"+task.ID, stranger, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("stranger read: expected 403, got %d", rr.Code)
	}

	// Owner updates status.
	rr := env.do(t, http.MethodPatch, "/v1/tasks/"+task.ID, owner, `{"status":"done"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// After delete the task is gone for everyone, owner included.
	if rr := env.do(t, http.MethodDelete, "/v1/tasks/"+task.ID, owner, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/tasks/"+task.ID, owner, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("read after delete: expected 404, got %d", rr.Code)
	}
}

func TestTaskAssigneeAndManagerAccess(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "owner", auth.RoleMember)
	assignee := env.addUser(t, "helper", auth.RoleMember)
	manager := env.addUser(t, "boss", auth.RoleManager)

	task := createTask(t, env, owner, `{"title":"triage bugs","assignees":["helper"]}`)

	if rr := env.do(t, http.MethodPatch, "/v1/tasks/"+task.ID, assignee, `{"status":"in_progress"}`); rr.Code != http.StatusOK {
		t.Fatalf("assignee update: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodPatch, "/v1/tasks/"+task.ID, manager, `{"notes":"reviewed"}`); rr.Code != http.StatusOK {
		t.Fatalf("manager update: expected 200, got %d", rr.Code)
	}

	// Neither assignee nor manager may delete a task they do not own.
	if rr := env.do(t, http.MethodDelete, "/v1/tasks/"+task.ID, assignee, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("assignee delete: expected 403, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/tasks/"+task.ID, manager, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("manager delete: expected 403, got %d", rr.Code)
	}
}

func TestTaskUnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "alice", auth.RoleAdmin)

	if rr := env.do(t, http.MethodGet, "/v1/tasks/nope", token, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.addUser(t, "alice", auth.RoleMember)

	if rr := env.do(t, http.MethodPost, "/v1/tasks", token, `{"title":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty title: expected 400, got %d", rr.Code)
	}

	task := createTask(t, env, token, `{"title":"valid"}`)
	if rr := env.do(t, http.MethodPatch, "/v1/tasks/"+task.ID, token, `{"status":"bogus"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", rr.Code)
	}
}

func TestProjectPolicyOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	creator := env.addUser(t, "creator", auth.RoleMember)
	collab := env.addUser(t, "collab", auth.RoleMember)
	admin := env.addUser(t, "root", auth.RoleAdmin)

	rr := env.do(t, http.MethodPost, "/v1/projects", creator, `{"name":"apollo"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var project tracker.Project
	if err := json.Unmarshal(rr.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	// Not yet a collaborator.
	if rr := env.do(t, http.MethodGet, "/v1/projects/"+project.ID, collab, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("outsider read: expected 403, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/v1/projects/"+project.ID+"/collaborators", creator, `{"user_id":"collab"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("add collaborator: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := env.do(t, http.MethodGet, "/v1/projects/"+project.ID, collab, ""); rr.Code != http.StatusOK {
		t.Fatalf("collaborator read: expected 200, got %d", rr.Code)
	}
	// Collaboration grants view only.
	if rr := env.do(t, http.MethodPatch, "/v1/projects/"+project.ID, collab, `{"name":"renamed"}`); rr.Code != http.StatusForbidden {
		t.Fatalf("collaborator modify: expected 403, got %d", rr.Code)
	}

	// Deleting a project takes an admin; even the creator is refused.
	if rr := env.do(t, http.MethodDelete, "/v1/projects/"+project.ID, creator, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("creator delete: expected 403, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/v1/projects/"+project.ID, admin, ""); rr.Code != http.StatusOK {
		t.Fatalf("admin delete: expected 200, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/v1/projects/"+project.ID, creator, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("read after delete: expected 404, got %d", rr.Code)
	}
}

func TestProjectPermissionGrant(t *testing.T) {
	env := newTestEnv(t)
	creator := env.addUser(t, "creator", auth.RoleMember)
	granted := env.addUser(t, "granted", auth.RoleMember)

	rr := env.do(t, http.MethodPost, "/v1/projects", creator, `{"name":"apollo"}`)
	var project tracker.Project
	if err := json.Unmarshal(rr.Body.Bytes(), &project); err != nil {
		t.Fatalf("decode project: %v", err)
	}

	rr = env.do(t, http.MethodPut, "/v1/projects/"+project.ID+"/permissions", creator,
		`{"user_id":"granted","level":"ADMIN"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set permission: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// An ADMIN grant allows managing collaborators.
	rr = env.do(t, http.MethodPost, "/v1/projects/"+project.ID+"/collaborators", granted, `{"user_id":"someone"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("granted manage: expected 200, got %d", rr.Code)
	}

	// Bad level rejected.
	rr = env.do(t, http.MethodPut, "/v1/projects/"+project.ID+"/permissions", creator,
		`{"user_id":"granted","level":"SUPER"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad level: expected 400, got %d", rr.Code)
	}
}
