package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lcreports.org/internal/ids"
)

// PGStore is the PostgreSQL-backed Store.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// OpenPG opens a pooled connection to PostgreSQL.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// NewPGStore wraps an existing connection pool (used by tests).
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness probes.
func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) Users(ctx context.Context) UserStore { return pgUsers{db: s.db} }

func (s *PGStore) RefreshTokens(ctx context.Context) RefreshTokenStore {
	return pgRefreshTokens{db: s.db}
}

func (s *PGStore) Branches(ctx context.Context) BranchStore { return pgBranches{db: s.db} }

type pgUsers struct {
	db *sql.DB
}

const userColumns = `id, username, email, name, password_hash, role, branch_id, active,
	failed_login_attempts, locked_until, last_login_at, created_at, updated_at`

func (r pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		insert into users (id, username, email, name, password_hash, role, branch_id, active,
			failed_login_attempts, locked_until, last_login_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,$10,$11,$12,$13)
	`, u.ID, u.Username, u.Email, u.Name, u.PasswordHash, string(u.Role), u.BranchID, u.Active,
		u.FailedLoginAttempts, nullTime(u.LockedUntil), nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (r pgUsers) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1`, username))
}

func (r pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`, email))
}

func (r pgUsers) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		update users
		set failed_login_attempts=0, locked_until=null, last_login_at=$2, updated_at=$2
		where id=$1
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return requireRow(res)
}

func (r pgUsers) RecordLoginFailure(ctx context.Context, id string, attempts int, lockedUntil *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		update users
		set failed_login_attempts=$2, locked_until=$3, updated_at=now()
		where id=$1
	`, id, attempts, nullTime(lockedUntil))
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return requireRow(res)
}

func (r pgUsers) scanOne(row *sql.Row) (*User, error) {
	var u User
	var role string
	var branchID sql.NullString
	var lockedUntil, lastLoginAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.PasswordHash, &role, &branchID,
		&u.Active, &u.FailedLoginAttempts, &lockedUntil, &lastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = Role(role)
	if branchID.Valid {
		u.BranchID = branchID.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

type pgRefreshTokens struct {
	db *sql.DB
}

func (r pgRefreshTokens) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token, expires_at, created_at, revoked)
		values ($1,$2,$3,$4,$5,$6)
	`, tok.ID, tok.UserID, tok.Token, tok.ExpiresAt, tok.CreatedAt, tok.Revoked)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r pgRefreshTokens) Find(ctx context.Context, userID, token string) (*RefreshToken, error) {
	var tok RefreshToken
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, token, expires_at, created_at, revoked
		from refresh_tokens where user_id=$1 and token=$2
	`, userID, token).Scan(&tok.ID, &tok.UserID, &tok.Token, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &tok, nil
}

func (r pgRefreshTokens) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	// Single UPDATE so a concurrent Find either sees the old state before
	// this commits or the revoked state after; no partial window.
	res, err := r.db.ExecContext(ctx, `
		update refresh_tokens set revoked=true
		where user_id=$1 and revoked=false
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

type pgBranches struct {
	db *sql.DB
}

func (r pgBranches) AssignedBranchIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		select branch_id from user_branch_assignments where user_id=$1 order by branch_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query branch assignments: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan branch assignment: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branch assignments: %w", err)
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
