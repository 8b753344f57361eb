package auth

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"crewdesk.org/internal/ids"
)

var (
	_ UserStore         = (*PGUserStore)(nil)
	_ RefreshTokenStore = (*PGRefreshTokenStore)(nil)
)

// PGUserStore implements UserStore using PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, email, username, password_hash, role, is_active, requires_password_reset, created_at, updated_at`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, username, password_hash, role, is_active, requires_password_reset)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, strings.ToLower(u.Email), u.Username, u.PasswordHash, string(u.Role), u.IsActive, u.RequiresPasswordReset,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, strings.ToLower(email))
	return scanUser(row)
}

func (s *PGUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)))
	}
	if upd.Email != nil {
		add("email", strings.ToLower(*upd.Email))
	}
	if upd.Username != nil {
		add("username", *upd.Username)
	}
	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		add("is_active", *upd.IsActive)
	}
	if upd.RequiresPasswordReset != nil {
		add("requires_password_reset", *upd.RequiresPasswordReset)
	}
	if len(sets) == 0 {
		return s.Find(ctx, id)
	}
	args = append(args, id)
	query := `update users set ` + strings.Join(sets, ", ") + `, updated_at=now() where id=$` + strconv.Itoa(len(args)) +
		` returning ` + userColumns
	row := s.db.QueryRowContext(ctx, query, args...)
	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return u, err
}

func (s *PGUserStore) UpdateRole(ctx context.Context, id string, role Role) error {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$1, updated_at=now() where id=$2`, string(role), id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *PGUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &role,
		&u.IsActive, &u.RequiresPasswordReset, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

// PGRefreshTokenStore implements RefreshTokenStore using PostgreSQL. The
// Consume conditional update is the single point that serializes concurrent
// rotations of one token.
type PGRefreshTokenStore struct {
	db *sql.DB
}

func NewPGRefreshTokenStore(db *sql.DB) *PGRefreshTokenStore {
	return &PGRefreshTokenStore{db: db}
}

func (s *PGRefreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, revoked)
		 values($1,$2,$3,$4,false)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGRefreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (s *PGRefreshTokenStore) Consume(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1 and revoked=false and expires_at > $2`,
		id, now,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return ErrRefreshTokenInvalid
	}
	return nil
}

func (s *PGRefreshTokenStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *PGRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1 and revoked=false`, userID)
	return err
}

func requireOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether the error is a unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}
