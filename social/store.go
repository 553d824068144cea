package social

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bountydotnew/querykit/auth"
	"github.com/bountydotnew/querykit/internal/sqlitedb"
)

var ErrCommentNotFound = errors.New("social: comment not found")

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bounty_votes (
		bounty_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (bounty_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bounty_bookmarks (
		bounty_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (bounty_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bounty_comments (
		id         TEXT PRIMARY KEY,
		bounty_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		parent_id  TEXT,
		content    TEXT NOT NULL,
		edit_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS bounty_comments_bounty ON bounty_comments (bounty_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS comment_likes (
		comment_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		PRIMARY KEY (comment_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS waitlist (
		email      TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
}

// Store persists social interactions in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := sqlitedb.Migrate(ctx, db, schema...); err != nil {
		return nil, fmt.Errorf("social: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveUser(ctx context.Context, u auth.Session) error {
	return sqlitedb.UpsertUser(ctx, s.db, u.UserID, u.Name, u.Email, string(u.Role))
}

// toggle flips membership of (a, b) in a two-column pair table and reports
// whether the pair is present afterwards.
func toggle(ctx context.Context, tx *sql.Tx, table, colA, colB, a, b string, extra ...any) (bool, error) {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ? AND %s = ?`, table, colA, colB), a, b)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	cols, marks := colA+", "+colB, "?, ?"
	args := []any{a, b}
	if len(extra) > 0 {
		cols, marks = cols+", created_at", marks+", ?"
		args = append(args, extra...)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, table, cols, marks), args...)
	return err == nil, err
}

func (s *Store) ToggleVote(ctx context.Context, bountyID, userID string, at time.Time) (Votes, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Votes{}, fmt.Errorf("social: vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	voted, err := toggle(ctx, tx, "bounty_votes", "bounty_id", "user_id", bountyID, userID, sqlitedb.Stamp(at))
	if err != nil {
		return Votes{}, fmt.Errorf("social: vote: %w", err)
	}
	v := Votes{IsVoted: voted}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bounty_votes WHERE bounty_id = ?`, bountyID).
		Scan(&v.Count); err != nil {
		return Votes{}, fmt.Errorf("social: count votes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Votes{}, fmt.Errorf("social: vote: %w", err)
	}
	return v, nil
}

// Votes counts votes on a bounty. IsVoted is false for an empty userID.
func (s *Store) Votes(ctx context.Context, bountyID, userID string) (Votes, error) {
	var v Votes
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(user_id = ?), 0)
		FROM bounty_votes WHERE bounty_id = ?`, userID, bountyID).Scan(&v.Count, &v.IsVoted)
	if err != nil {
		return Votes{}, fmt.Errorf("social: votes of %s: %w", bountyID, err)
	}
	return v, nil
}

func (s *Store) ToggleBookmark(ctx context.Context, bountyID, userID string, at time.Time) (Bookmark, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Bookmark{}, fmt.Errorf("social: bookmark: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	on, err := toggle(ctx, tx, "bounty_bookmarks", "bounty_id", "user_id", bountyID, userID, sqlitedb.Stamp(at))
	if err != nil {
		return Bookmark{}, fmt.Errorf("social: bookmark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Bookmark{}, fmt.Errorf("social: bookmark: %w", err)
	}
	return Bookmark{Bookmarked: on}, nil
}

func (s *Store) Bookmarked(ctx context.Context, bountyID, userID string) (Bookmark, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bounty_bookmarks WHERE bounty_id = ? AND user_id = ?`, bountyID, userID).Scan(&n)
	if err != nil {
		return Bookmark{}, fmt.Errorf("social: bookmark of %s: %w", bountyID, err)
	}
	return Bookmark{Bookmarked: n > 0}, nil
}

const commentSelect = `
	SELECT c.id, c.bounty_id, c.content, c.parent_id, c.created_at, c.edit_count,
		c.user_id, COALESCE(u.name, ''),
		(SELECT COUNT(*) FROM comment_likes l WHERE l.comment_id = c.id),
		EXISTS (SELECT 1 FROM comment_likes l WHERE l.comment_id = c.id AND l.user_id = ?)
	FROM bounty_comments c
	LEFT JOIN users u ON u.id = c.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(r rowScanner) (Comment, error) {
	var (
		c       Comment
		parent  sql.NullString
		created int64
	)
	err := r.Scan(&c.ID, &c.BountyID, &c.Content, &parent, &created, &c.EditCount,
		&c.User.ID, &c.User.Name, &c.LikeCount, &c.IsLiked)
	if err != nil {
		return Comment{}, err
	}
	if parent.Valid {
		c.ParentID = &parent.String
	}
	c.CreatedAt = sqlitedb.FromStamp(created)
	return c, nil
}

// Comments lists a bounty's comments newest first, as seen by viewerID.
func (s *Store) Comments(ctx context.Context, bountyID, viewerID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		commentSelect+` WHERE c.bounty_id = ? ORDER BY c.created_at DESC, c.id DESC`, viewerID, bountyID)
	if err != nil {
		return nil, fmt.Errorf("social: comments of %s: %w", bountyID, err)
	}
	defer rows.Close()
	out := []Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("social: scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Comment(ctx context.Context, id, viewerID string) (Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id = ?`, viewerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrCommentNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("social: comment %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) AddComment(ctx context.Context, c Comment) error {
	at := sqlitedb.Stamp(c.CreatedAt)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bounty_comments (id, bounty_id, user_id, parent_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BountyID, c.User.ID, c.ParentID, c.Content, at, at)
	if err != nil {
		return fmt.Errorf("social: add comment: %w", err)
	}
	return nil
}

// CommentAuthor returns the user who wrote comment id.
func (s *Store) CommentAuthor(ctx context.Context, id string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM bounty_comments WHERE id = ?`, id).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrCommentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("social: comment %s: %w", id, err)
	}
	return uid, nil
}

func (s *Store) UpdateComment(ctx context.Context, id, content string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bounty_comments SET content = ?, edit_count = edit_count + 1, updated_at = ?
		WHERE id = ?`, content, sqlitedb.Stamp(at), id)
	if err != nil {
		return fmt.Errorf("social: update comment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCommentNotFound
	}
	return nil
}

// DeleteComment removes a comment and its likes. Replies are kept and lose
// their parent.
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("social: delete comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM bounty_comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("social: delete comment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCommentNotFound
	}
	for _, q := range []string{
		`DELETE FROM comment_likes WHERE comment_id = ?`,
		`UPDATE bounty_comments SET parent_id = NULL WHERE parent_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("social: delete comment %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ToggleLike(ctx context.Context, commentID, userID string) (LikeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LikeResult{}, fmt.Errorf("social: like: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM bounty_comments WHERE id = ?`, commentID).
		Scan(&exists); err != nil {
		return LikeResult{}, fmt.Errorf("social: like: %w", err)
	}
	if exists == 0 {
		return LikeResult{}, ErrCommentNotFound
	}
	liked, err := toggle(ctx, tx, "comment_likes", "comment_id", "user_id", commentID, userID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("social: like: %w", err)
	}
	r := LikeResult{IsLiked: liked}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM comment_likes WHERE comment_id = ?`, commentID).
		Scan(&r.LikeCount); err != nil {
		return LikeResult{}, fmt.Errorf("social: count likes: %w", err)
	}
	return r, tx.Commit()
}

// JoinWaitlist adds email and reports whether it was new.
func (s *Store) JoinWaitlist(ctx context.Context, email string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO waitlist (email, created_at) VALUES (?, ?) ON CONFLICT (email) DO NOTHING`,
		email, sqlitedb.Stamp(at))
	if err != nil {
		return false, fmt.Errorf("social: join waitlist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("social: join waitlist: %w", err)
	}
	return n > 0, nil
}

func (s *Store) WaitlistCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waitlist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("social: waitlist count: %w", err)
	}
	return n, nil
}
