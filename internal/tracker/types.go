package tracker

import (
	"errors"
	"time"
)

// Task is a unit of work owned by one user and optionally assigned to others.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id,omitempty"`
	OwnerID   string     `json:"owner_id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Status    string     `json:"status"`
	Assignees []string   `json:"assignees,omitempty"`
	Deleted   bool       `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Project groups tasks under a creator with collaborators and explicit
// permission grants.
type Project struct {
	ID          string    `json:"id"`
	CreatorID   string    `json:"creator_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Archived    bool      `json:"archived"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeletedBody replaces the text of soft-deleted chat messages. Unlike tasks
// and projects, deleted messages stay visible to preserve thread continuity.
const DeletedBody = "[deleted]"

// Message is a chat message in a thread. Threads are identified by an opaque
// key and may be linked to a task.
type Message struct {
	ID        string     `json:"id"`
	ThreadKey string     `json:"thread_key"`
	AuthorID  string     `json:"author_id"`
	Body      string     `json:"body"`
	Deleted   bool       `json:"deleted"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// Redacted returns the message as it should be served: deleted messages keep
// their place in the thread with the body replaced.
func (m Message) Redacted() Message {
	if m.Deleted {
		m.Body = DeletedBody
	}
	return m
}

var (
	ErrNotFound = errors.New("tracker: not found")
	ErrConflict = errors.New("tracker: conflict")
)

// TaskUpdate carries optional task field changes.
type TaskUpdate struct {
	Title     *string
	Notes     *string
	Status    *string
	Assignees *[]string
}

// ProjectUpdate carries optional project field changes.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Archived    *bool
}
