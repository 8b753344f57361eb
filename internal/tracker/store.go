package tracker

import "context"

// TaskStore persists tasks. Lookups treat soft-deleted tasks as not found.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	Task(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, id string, upd TaskUpdate) (Task, error)
	// DeleteTask soft-deletes; the row stays for audit but every lookup
	// reports not found.
	DeleteTask(ctx context.Context, id string) error
}

// ProjectStore persists projects, collaborators and permission grants.
// Lookups treat soft-deleted projects as not found.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	Project(ctx context.Context, id string) (Project, error)
	UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (Project, error)
	DeleteProject(ctx context.Context, id string) error
	AddCollaborator(ctx context.Context, projectID, userID string) error
	RemoveCollaborator(ctx context.Context, projectID, userID string) error
	SetPermission(ctx context.Context, projectID, userID, level string) error
}

// ChatStore persists threads and messages. Deleted messages are returned
// with their place in the thread preserved; serving layers redact the body.
type ChatStore interface {
	PostMessage(ctx context.Context, m *Message) error
	Message(ctx context.Context, id string) (Message, error)
	ThreadMessages(ctx context.Context, threadKey string, limit int) ([]Message, error)
	UpdateMessage(ctx context.Context, id, body string) (Message, error)
	// DeleteMessage soft-deletes; the message remains listed with a
	// redacted body.
	DeleteMessage(ctx context.Context, id string) error
	// LinkThread binds a thread key to a task so the thread inherits the
	// task's access policy.
	LinkThread(ctx context.Context, threadKey, taskID string) error
}

// Store is the full persistence surface of the tracker domain.
type Store interface {
	TaskStore
	ProjectStore
	ChatStore
}
