package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	capdomain "x402-delegation/backend/internal/capability/domain"
	"x402-delegation/backend/internal/session/domain"
)

// PostgresRepository persists sessions in the delegation_sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, token, created_at, last_used, usage_count, active`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM delegation_sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Create inserts the session. An existing row with the same id is left untouched and false is returned.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) (bool, error) {
	token, err := json.Marshal(s.Token)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO delegation_sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, token, s.CreatedAt, s.LastUsed, s.UsageCount, s.Active)
	return affected(res, err)
}

// Touch is a single conditional UPDATE so replicas sharing the table cannot overrun max_uses
// or resurrect a revoked session.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time, maxUses *int) (bool, error) {
	var limit sql.NullInt64
	if maxUses != nil {
		limit = sql.NullInt64{Int64: int64(*maxUses), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE delegation_sessions SET usage_count = usage_count + 1, last_used = $2
		 WHERE id = $1 AND active AND ($3::bigint IS NULL OR usage_count + 1 < $3::bigint)`,
		id, at, limit)
	return affected(res, err)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE delegation_sessions SET active = false WHERE id = $1`, id)
	return err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM delegation_sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM delegation_sessions WHERE active`).Scan(&n)
	return n, err
}

func (r *PostgresRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delegation_sessions WHERE last_used < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s     domain.Session
		token []byte
	)
	if err := row.Scan(&s.ID, &token, &s.CreatedAt, &s.LastUsed, &s.UsageCount, &s.Active); err != nil {
		return nil, err
	}
	if len(token) > 0 {
		var t capdomain.CapabilityToken
		if err := json.Unmarshal(token, &t); err != nil {
			return nil, err
		}
		s.Token = &t
	}
	return &s, nil
}
