package authz

import (
	"context"
	"database/sql"
	"errors"

	"crewdesk.org/internal/auth"
)

var _ FactProvider = (*PGFactProvider)(nil)

// PGFactProvider answers fact queries from PostgreSQL. All queries are
// read-only; consistency across the facts read within one authorization
// check is delegated to the database's read-committed isolation.
type PGFactProvider struct {
	db *sql.DB
}

func NewPGFactProvider(db *sql.DB) *PGFactProvider {
	return &PGFactProvider{db: db}
}

func (p *PGFactProvider) TaskFacts(ctx context.Context, taskID string) (TaskFacts, error) {
	row := p.db.QueryRowContext(ctx,
		`select id, owner_id from tasks where id=$1 and deleted=false`, taskID)
	var facts TaskFacts
	if err := row.Scan(&facts.ID, &facts.OwnerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskFacts{}, ErrNotFound
		}
		return TaskFacts{}, err
	}

	rows, err := p.db.QueryContext(ctx,
		`select user_id from task_assignees where task_id=$1`, taskID)
	if err != nil {
		return TaskFacts{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return TaskFacts{}, err
		}
		facts.Assignees = append(facts.Assignees, userID)
	}
	return facts, rows.Err()
}

func (p *PGFactProvider) ProjectFacts(ctx context.Context, projectID string) (ProjectFacts, error) {
	row := p.db.QueryRowContext(ctx,
		`select id, creator_id from projects where id=$1 and deleted=false`, projectID)
	var facts ProjectFacts
	if err := row.Scan(&facts.ID, &facts.CreatorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProjectFacts{}, ErrNotFound
		}
		return ProjectFacts{}, err
	}

	rows, err := p.db.QueryContext(ctx,
		`select user_id from project_collaborators where project_id=$1`, projectID)
	if err != nil {
		return ProjectFacts{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return ProjectFacts{}, err
		}
		facts.Collaborators = append(facts.Collaborators, userID)
	}
	if err := rows.Err(); err != nil {
		return ProjectFacts{}, err
	}

	permRows, err := p.db.QueryContext(ctx,
		`select user_id, level from project_permissions where project_id=$1`, projectID)
	if err != nil {
		return ProjectFacts{}, err
	}
	defer permRows.Close()
	facts.Permissions = make(map[string]Permission)
	for permRows.Next() {
		var (
			userID string
			level  string
		)
		if err := permRows.Scan(&userID, &level); err != nil {
			return ProjectFacts{}, err
		}
		facts.Permissions[userID] = Permission(level)
	}
	return facts, permRows.Err()
}

func (p *PGFactProvider) MessageFacts(ctx context.Context, messageID string) (MessageFacts, error) {
	row := p.db.QueryRowContext(ctx,
		`select id, thread_key, author_id, deleted from messages where id=$1`, messageID)
	var facts MessageFacts
	if err := row.Scan(&facts.ID, &facts.ThreadKey, &facts.AuthorID, &facts.Deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MessageFacts{}, ErrNotFound
		}
		return MessageFacts{}, err
	}
	return facts, nil
}

func (p *PGFactProvider) ThreadTaskID(ctx context.Context, threadKey string) (string, error) {
	row := p.db.QueryRowContext(ctx,
		`select task_id from threads where thread_key=$1`, threadKey)
	var taskID sql.NullString
	if err := row.Scan(&taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return taskID.String, nil
}

func (p *PGFactProvider) HasPosted(ctx context.Context, threadKey, userID string) (bool, error) {
	row := p.db.QueryRowContext(ctx,
		`select exists(select 1 from messages where thread_key=$1 and author_id=$2 and deleted=false)`,
		threadKey, userID)
	var posted bool
	if err := row.Scan(&posted); err != nil {
		return false, err
	}
	return posted, nil
}

func (p *PGFactProvider) UserFacts(ctx context.Context, userID string) (UserFacts, error) {
	row := p.db.QueryRowContext(ctx,
		`select id, role from users where id=$1`, userID)
	var (
		facts UserFacts
		role  string
	)
	if err := row.Scan(&facts.ID, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserFacts{}, ErrNotFound
		}
		return UserFacts{}, err
	}
	facts.Role = auth.Role(role)
	return facts, nil
}
