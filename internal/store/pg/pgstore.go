package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"crewdesk.org/internal/ids"
	"crewdesk.org/internal/tracker"
)

// Store implements tracker.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ tracker.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool settings suitable for the API
// workload and returns a ready Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Tasks ---------------------------------------------------------------------

const taskColumns = `id, coalesce(project_id, ''), owner_id, title, notes, status, created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t *tracker.Task) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var projectID any
	if t.ProjectID != "" {
		projectID = t.ProjectID
	}
	if _, err := tx.ExecContext(ctx,
		`insert into tasks(id, project_id, owner_id, title, notes, status) values($1,$2,$3,$4,$5,$6)`,
		t.ID, projectID, t.OwnerID, t.Title, t.Notes, t.Status,
	); err != nil {
		return err
	}
	for _, userID := range t.Assignees {
		if _, err := tx.ExecContext(ctx,
			`insert into task_assignees(task_id, user_id) values($1,$2) on conflict do nothing`,
			t.ID, userID,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Task(ctx context.Context, id string) (tracker.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+taskColumns+` from tasks where id=$1 and deleted=false`, id)
	task, err := scanTask(row)
	if err != nil {
		return tracker.Task{}, err
	}
	assignees, err := s.taskAssignees(ctx, id)
	if err != nil {
		return tracker.Task{}, err
	}
	task.Assignees = assignees
	return task, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, upd tracker.TaskUpdate) (tracker.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tracker.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)))
	}
	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.Notes != nil {
		add("notes", *upd.Notes)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	sets = append(sets, "updated_at=now()")
	args = append(args, id)
	row := tx.QueryRowContext(ctx,
		`update tasks set `+strings.Join(sets, ", ")+` where id=$`+strconv.Itoa(len(args))+
			` and deleted=false returning `+taskColumns, args...)
	task, err := scanTask(row)
	if err != nil {
		return tracker.Task{}, err
	}

	if upd.Assignees != nil {
		if _, err := tx.ExecContext(ctx, `delete from task_assignees where task_id=$1`, id); err != nil {
			return tracker.Task{}, err
		}
		for _, userID := range *upd.Assignees {
			if _, err := tx.ExecContext(ctx,
				`insert into task_assignees(task_id, user_id) values($1,$2) on conflict do nothing`,
				id, userID,
			); err != nil {
				return tracker.Task{}, err
			}
		}
		task.Assignees = *upd.Assignees
	}
	if err := tx.Commit(); err != nil {
		return tracker.Task{}, err
	}
	if upd.Assignees == nil {
		assignees, err := s.taskAssignees(ctx, id)
		if err != nil {
			return tracker.Task{}, err
		}
		task.Assignees = assignees
	}
	return task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update tasks set deleted=true, updated_at=now() where id=$1 and deleted=false`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) taskAssignees(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id from task_assignees where task_id=$1 order by user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignees []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		assignees = append(assignees, userID)
	}
	return assignees, rows.Err()
}

func scanTask(row *sql.Row) (tracker.Task, error) {
	var t tracker.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.OwnerID, &t.Title, &t.Notes, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Task{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Task{}, err
	}
	return t, nil
}

// Projects ------------------------------------------------------------------

const projectColumns = `id, creator_id, name, description, archived, created_at, updated_at`

func (s *Store) CreateProject(ctx context.Context, p *tracker.Project) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into projects(id, creator_id, name, description) values($1,$2,$3,$4)`,
		p.ID, p.CreatorID, p.Name, p.Description,
	)
	return err
}

func (s *Store) Project(ctx context.Context, id string) (tracker.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+projectColumns+` from projects where id=$1 and deleted=false`, id)
	return scanProject(row)
}

func (s *Store) UpdateProject(ctx context.Context, id string, upd tracker.ProjectUpdate) (tracker.Project, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)))
	}
	if upd.Name != nil {
		add("name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.Archived != nil {
		add("archived", *upd.Archived)
	}
	sets = append(sets, "updated_at=now()")
	args = append(args, id)
	row := s.db.QueryRowContext(ctx,
		`update projects set `+strings.Join(sets, ", ")+` where id=$`+strconv.Itoa(len(args))+
			` and deleted=false returning `+projectColumns, args...)
	return scanProject(row)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update projects set deleted=true, updated_at=now() where id=$1 and deleted=false`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) AddCollaborator(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into project_collaborators(project_id, user_id) values($1,$2) on conflict do nothing`,
		projectID, userID,
	)
	return err
}

func (s *Store) RemoveCollaborator(ctx context.Context, projectID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from project_collaborators where project_id=$1 and user_id=$2`, projectID, userID)
	return err
}

func (s *Store) SetPermission(ctx context.Context, projectID, userID, level string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into project_permissions(project_id, user_id, level) values($1,$2,$3)
		 on conflict (project_id, user_id) do update set level=excluded.level`,
		projectID, userID, level,
	)
	return err
}

func scanProject(row *sql.Row) (tracker.Project, error) {
	var p tracker.Project
	err := row.Scan(&p.ID, &p.CreatorID, &p.Name, &p.Description, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Project{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Project{}, err
	}
	return p, nil
}

// Chat ----------------------------------------------------------------------

const messageColumns = `id, thread_key, author_id, body, deleted, created_at, edited_at`

func (s *Store) PostMessage(ctx context.Context, m *tracker.Message) error {
	if m.ID == "" {
		m.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`insert into threads(thread_key) values($1) on conflict do nothing`, m.ThreadKey,
	); err != nil {
		return err
	}
	row := tx.QueryRowContext(ctx,
		`insert into messages(id, thread_key, author_id, body) values($1,$2,$3,$4) returning created_at`,
		m.ID, m.ThreadKey, m.AuthorID, m.Body,
	)
	if err := row.Scan(&m.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Message(ctx context.Context, id string) (tracker.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+messageColumns+` from messages where id=$1`, id)
	return scanMessage(row)
}

// ThreadMessages returns the thread in posting order. Deleted messages are
// included with redacted bodies to preserve thread continuity.
func (s *Store) ThreadMessages(ctx context.Context, threadKey string, limit int) ([]tracker.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+messageColumns+` from messages where thread_key=$1 order by created_at asc limit $2`,
		threadKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []tracker.Message
	for rows.Next() {
		var (
			m        tracker.Message
			editedAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ThreadKey, &m.AuthorID, &m.Body, &m.Deleted, &m.CreatedAt, &editedAt); err != nil {
			return nil, err
		}
		if editedAt.Valid {
			t := editedAt.Time
			m.EditedAt = &t
		}
		messages = append(messages, m.Redacted())
	}
	return messages, rows.Err()
}

func (s *Store) UpdateMessage(ctx context.Context, id, body string) (tracker.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`update messages set body=$1, edited_at=now() where id=$2 and deleted=false returning `+messageColumns,
		body, id)
	return scanMessage(row)
}

func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update messages set deleted=true where id=$1 and deleted=false`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) LinkThread(ctx context.Context, threadKey, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into threads(thread_key, task_id) values($1,$2)
		 on conflict (thread_key) do update set task_id=excluded.task_id`,
		threadKey, taskID,
	)
	return err
}

func scanMessage(row *sql.Row) (tracker.Message, error) {
	var (
		m        tracker.Message
		editedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ThreadKey, &m.AuthorID, &m.Body, &m.Deleted, &m.CreatedAt, &editedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Message{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Message{}, err
	}
	if editedAt.Valid {
		t := editedAt.Time
		m.EditedAt = &t
	}
	return m, nil
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
