package authz

import (
	"context"

	"crewdesk.org/internal/auth"
)

// ResourceKind identifies what a policy check is about.
type ResourceKind string

const (
	KindTask    ResourceKind = "task"
	KindProject ResourceKind = "project"
	KindThread  ResourceKind = "thread"
	KindMessage ResourceKind = "message"
	KindUser    ResourceKind = "user"
)

// Action is a requested operation on a resource.
type Action string

const (
	ActionView                Action = "view"
	ActionModify              Action = "modify"
	ActionDelete              Action = "delete"
	ActionArchive             Action = "archive"
	ActionManageCollaborators Action = "manage_collaborators"
	ActionPost                Action = "post"
)

// Permission is an explicit per-user grant on a project.
type Permission string

const (
	PermissionRead   Permission = "READ"
	PermissionWrite  Permission = "WRITE"
	PermissionDelete Permission = "DELETE"
	PermissionAdmin  Permission = "ADMIN"
)

// Valid reports whether the permission is one of the known levels.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin:
		return true
	}
	return false
}

// Resource references the target of a policy check.
type Resource struct {
	Kind ResourceKind
	ID   string // task id, project id, thread key, message id or user id
}

func Task(id string) Resource     { return Resource{Kind: KindTask, ID: id} }
func Project(id string) Resource  { return Resource{Kind: KindProject, ID: id} }
func Thread(key string) Resource  { return Resource{Kind: KindThread, ID: key} }
func Message(id string) Resource  { return Resource{Kind: KindMessage, ID: id} }
func Account(id string) Resource  { return Resource{Kind: KindUser, ID: id} }

// TaskFacts are the access-relevant attributes of a live task.
type TaskFacts struct {
	ID        string
	OwnerID   string
	Assignees []string
}

// IsAssignee reports whether the user is in the task's assignee set.
func (f TaskFacts) IsAssignee(userID string) bool {
	for _, id := range f.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}

// ProjectFacts are the access-relevant attributes of a live project.
type ProjectFacts struct {
	ID            string
	CreatorID     string
	Collaborators []string
	Permissions   map[string]Permission
}

// IsCollaborator reports whether the user is a project collaborator.
func (f ProjectFacts) IsCollaborator(userID string) bool {
	for _, id := range f.Collaborators {
		if id == userID {
			return true
		}
	}
	return false
}

// MessageFacts are the access-relevant attributes of a chat message.
// Deleted messages still resolve: they stay visible redacted, unlike tasks
// and projects.
type MessageFacts struct {
	ID        string
	ThreadKey string
	AuthorID  string
	Deleted   bool
}

// UserFacts are the access-relevant attributes of a target account.
type UserFacts struct {
	ID   string
	Role auth.Role
}

// FactProvider answers narrow existence and relationship questions from the
// data store. Implementations must be side-effect free; the engine treats
// every call as a read-only oracle. Lookups of soft-deleted tasks and
// projects must report ErrNotFound.
type FactProvider interface {
	TaskFacts(ctx context.Context, taskID string) (TaskFacts, error)
	ProjectFacts(ctx context.Context, projectID string) (ProjectFacts, error)
	MessageFacts(ctx context.Context, messageID string) (MessageFacts, error)
	// ThreadTaskID resolves the task a thread is linked to; empty string for
	// standalone and unknown threads.
	ThreadTaskID(ctx context.Context, threadKey string) (string, error)
	// HasPosted reports whether the user authored at least one non-deleted
	// message in the thread.
	HasPosted(ctx context.Context, threadKey, userID string) (bool, error)
	UserFacts(ctx context.Context, userID string) (UserFacts, error)
}
