package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Repository is the relational side of the server: accounts, ratings and
// the archive of finished games.
type Repository interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error)
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateRatingStats(ctx context.Context, userID int64, rating int, outcome Outcome) error
	Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error)
	SaveMatch(ctx context.Context, rec *MatchRecord) error
	MatchRecord(ctx context.Context, matchID string) (*MatchRecord, error)
	MatchHistory(ctx context.Context, userID int64, limit, offset int) ([]HistoryEntry, error)
	Close() error
}

type repository struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// uniqueViolation maps a unique-constraint failure to the matching sentinel.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil
	}
	switch {
	case strings.Contains(pqErr.Constraint, "email"):
		return ErrEmailTaken
	case strings.Contains(pqErr.Constraint, "username"):
		return ErrUsernameTaken
	}
	return ErrUsernameTaken
}

func (r *repository) CreateUser(ctx context.Context, username, email, passwordHash string) (int64, error) {
	const query = `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING user_id`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, username, email, passwordHash).Scan(&id); err != nil {
		if mapped := uniqueViolation(err); mapped != nil {
			return 0, mapped
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

const userColumns = `user_id, username, email, password_hash, rating, wins, losses, draws, created_at`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Rating, &u.Wins, &u.Losses, &u.Draws, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (r *repository) UserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, id))
}

func (r *repository) UserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *repository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (r *repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

func (r *repository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

// UpdateRatingStats sets the rating and increments one result counter.
func (r *repository) UpdateRatingStats(ctx context.Context, userID int64, rating int, outcome Outcome) error {
	w, l, d := outcome.counters()
	const query = `
		UPDATE users
		SET rating = $2, wins = wins + $3, losses = losses + $4, draws = draws + $5
		WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, rating, w, l, d)
	if err != nil {
		return fmt.Errorf("update rating: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
	const query = `
		SELECT username, rating, wins, losses, draws
		FROM users
		ORDER BY rating DESC, user_id ASC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Rating, &e.Wins, &e.Losses, &e.Draws); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repository) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if rec == nil {
		return fmt.Errorf("nil match record")
	}
	moves := rec.Moves
	if len(moves) == 0 {
		moves = []byte("[]")
	}
	const query = `
		INSERT INTO matches (
			match_id, red_user_id, black_user_id, result, end_reason,
			moves_json, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (match_id) DO UPDATE SET
			result = EXCLUDED.result,
			end_reason = EXCLUDED.end_reason,
			moves_json = EXCLUDED.moves_json,
			ended_at = EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.MatchID, rec.RedID, rec.BlackID, rec.Result, rec.Reason,
		string(moves), rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (r *repository) MatchRecord(ctx context.Context, matchID string) (*MatchRecord, error) {
	const query = `
		SELECT m.match_id, m.red_user_id, m.black_user_id, u1.username, u2.username,
			m.result, m.end_reason, m.moves_json, m.started_at, m.ended_at
		FROM matches m
		JOIN users u1 ON m.red_user_id = u1.user_id
		JOIN users u2 ON m.black_user_id = u2.user_id
		WHERE m.match_id = $1`

	var (
		rec   MatchRecord
		moves []byte
	)
	err := r.db.QueryRowContext(ctx, query, matchID).Scan(
		&rec.MatchID, &rec.RedID, &rec.BlackID, &rec.RedName, &rec.BlackName,
		&rec.Result, &rec.Reason, &moves, &rec.StartedAt, &rec.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select match: %w", err)
	}
	rec.Moves = moves
	return &rec, nil
}

func (r *repository) MatchHistory(ctx context.Context, userID int64, limit, offset int) ([]HistoryEntry, error) {
	const query = `
		SELECT m.match_id, m.red_user_id, m.black_user_id, u1.username, u2.username,
			m.result, m.started_at, m.ended_at
		FROM matches m
		JOIN users u1 ON m.red_user_id = u1.user_id
		JOIN users u2 ON m.black_user_id = u2.user_id
		WHERE m.red_user_id = $1 OR m.black_user_id = $1
		ORDER BY m.ended_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var rec MatchRecord
		if err := rows.Scan(&rec.MatchID, &rec.RedID, &rec.BlackID, &rec.RedName, &rec.BlackName,
			&rec.Result, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, historyEntry(userID, &rec))
	}
	return out, rows.Err()
}
