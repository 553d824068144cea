package beta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bountydotnew/querykit/auth"
	"github.com/bountydotnew/querykit/internal/sqlitedb"
)

var (
	ErrDuplicate  = errors.New("beta: user already has an application")
	ErrNotFound   = errors.New("beta: application not found")
	ErrNotPending = errors.New("beta: application is not pending")
)

// Review is one admin decision.
type Review struct {
	ID         string
	Status     Status
	Notes      string
	ReviewerID string
	At         time.Time
}

// Store persists applications and the applicant's beta access flag.
type Store interface {
	SaveUser(ctx context.Context, s auth.Session) error
	AccessStatus(ctx context.Context, userID string) (AccessStatus, error)

	ByUser(ctx context.Context, userID string) (Application, bool, error)
	// Insert fails with ErrDuplicate when the user already applied.
	Insert(ctx context.Context, app Application) error
	// List returns newest first. An empty status lists every status.
	List(ctx context.Context, status Status, limit, offset int) ([]Listed, error)
	Count(ctx context.Context, status Status) (int, error)
	// Review moves a pending application to r.Status and sets the user's
	// access flag in the same transaction.
	Review(ctx context.Context, r Review) (Application, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS beta_applications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	twitter      TEXT NOT NULL,
	project_name TEXT NOT NULL,
	project_link TEXT NOT NULL,
	description  TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	review_notes TEXT,
	reviewed_by  TEXT,
	reviewed_at  INTEGER,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
)`

const statusIndex = `
CREATE INDEX IF NOT EXISTS beta_applications_status_created
	ON beta_applications (status, created_at)`

const appColumns = `a.id, a.user_id, a.name, a.twitter, a.project_name, a.project_link,
	a.description, a.status, a.review_notes, a.reviewed_by, a.reviewed_at,
	a.created_at, a.updated_at`

type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates the applications table if needed. db must come from
// sqlitedb.Open so the users table exists.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if err := sqlitedb.Migrate(ctx, db, schema, statusIndex); err != nil {
		return nil, fmt.Errorf("beta: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) SaveUser(ctx context.Context, u auth.Session) error {
	return sqlitedb.UpsertUser(ctx, s.db, u.UserID, u.Name, u.Email, string(u.Role))
}

func (s *SQLStore) AccessStatus(ctx context.Context, userID string) (AccessStatus, error) {
	var a string
	err := s.db.QueryRowContext(ctx, `SELECT beta_access_status FROM users WHERE id = ?`, userID).Scan(&a)
	if errors.Is(err, sql.ErrNoRows) {
		return AccessNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("beta: access status of %s: %w", userID, err)
	}
	return AccessStatus(a), nil
}

func (s *SQLStore) ByUser(ctx context.Context, userID string) (Application, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM beta_applications a WHERE a.user_id = ? LIMIT 1`, userID)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, false, nil
	}
	if err != nil {
		return Application{}, false, fmt.Errorf("beta: application of %s: %w", userID, err)
	}
	return app, true, nil
}

func (s *SQLStore) Insert(ctx context.Context, a Application) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO beta_applications
			(id, user_id, name, twitter, project_name, project_link, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Twitter, a.ProjectName, a.ProjectLink, a.Description,
		string(a.Status), sqlitedb.Stamp(a.CreatedAt), sqlitedb.Stamp(a.UpdatedAt))
	if sqlitedb.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("beta: insert application: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context, status Status, limit, offset int) ([]Listed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appColumns+`, COALESCE(u.id, ''), COALESCE(u.name, ''), COALESCE(u.email, '')
		FROM beta_applications a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE (? = '' OR a.status = ?)
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ? OFFSET ?`,
		string(status), string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("beta: list applications: %w", err)
	}
	defer rows.Close()

	out := []Listed{}
	for rows.Next() {
		var l Listed
		var r appRow
		if err := rows.Scan(append(r.dest(), &l.User.ID, &l.User.Name, &l.User.Email)...); err != nil {
			return nil, fmt.Errorf("beta: scan application: %w", err)
		}
		l.Application = r.application()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("beta: list applications: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM beta_applications WHERE (? = '' OR status = ?)`,
		string(status), string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("beta: count applications: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Review(ctx context.Context, r Review) (Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Application{}, fmt.Errorf("beta: review: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID, status string
	err = tx.QueryRowContext(ctx, `SELECT user_id, status FROM beta_applications WHERE id = ?`, r.ID).
		Scan(&userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("beta: review %s: %w", r.ID, err)
	}
	if Status(status) != StatusPending {
		return Application{}, ErrNotPending
	}

	at := sqlitedb.Stamp(r.At)
	_, err = tx.ExecContext(ctx, `
		UPDATE beta_applications
		SET status = ?, review_notes = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(r.Status), nullString(r.Notes), r.ReviewerID, at, at, r.ID)
	if err != nil {
		return Application{}, fmt.Errorf("beta: review %s: %w", r.ID, err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE users SET beta_access_status = ? WHERE id = ?`,
		string(r.Status.Access()), userID)
	if err != nil {
		return Application{}, fmt.Errorf("beta: update access of %s: %w", userID, err)
	}

	app, err := scanApplication(tx.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM beta_applications a WHERE a.id = ?`, r.ID))
	if err != nil {
		return Application{}, fmt.Errorf("beta: reload %s: %w", r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return Application{}, fmt.Errorf("beta: review %s: %w", r.ID, err)
	}
	return app, nil
}

type appRow struct {
	a          Application
	status     string
	notes      sql.NullString
	reviewedBy sql.NullString
	reviewedAt sql.NullInt64
	created    int64
	updated    int64
}

func (r *appRow) dest() []any {
	return []any{
		&r.a.ID, &r.a.UserID, &r.a.Name, &r.a.Twitter, &r.a.ProjectName, &r.a.ProjectLink,
		&r.a.Description, &r.status, &r.notes, &r.reviewedBy, &r.reviewedAt,
		&r.created, &r.updated,
	}
}

func (r *appRow) application() Application {
	a := r.a
	a.Status = Status(r.status)
	a.ReviewNotes = r.notes.String
	a.ReviewedBy = r.reviewedBy.String
	a.ReviewedAt = sqlitedb.NullStamp(r.reviewedAt)
	a.CreatedAt = sqlitedb.FromStamp(r.created)
	a.UpdatedAt = sqlitedb.FromStamp(r.updated)
	return a
}

func scanApplication(row *sql.Row) (Application, error) {
	var r appRow
	if err := row.Scan(r.dest()...); err != nil {
		return Application{}, err
	}
	return r.application(), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
