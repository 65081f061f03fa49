package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"x402-delegation/backend/internal/usage/domain"
)

// PostgresRepository persists usage records in the usage_records table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a usage repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, rec *domain.Record) error {
	var params []byte
	if rec.Parameters != nil {
		b, err := json.Marshal(rec.Parameters)
		if err != nil {
			return err
		}
		params = b
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_records (session_id, capability, used_at, parameters, result, execution_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SessionID, rec.Capability, rec.UsedAt, params, string(rec.Result), rec.ExecutionTimeMs)
	return err
}

func (r *PostgresRepository) CountSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM usage_records WHERE session_id = $1 AND used_at >= $2`, sessionID, since).Scan(&n)
	return n, err
}

func (r *PostgresRepository) CountResult(ctx context.Context, sessionID string, result domain.Result) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM usage_records WHERE session_id = $1 AND result = $2`, sessionID, string(result)).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, capability, used_at, parameters, result, execution_time_ms
		 FROM usage_records WHERE session_id = $1 ORDER BY used_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Record
	for rows.Next() {
		var (
			rec    domain.Record
			params []byte
			result string
		)
		if err := rows.Scan(&rec.SessionID, &rec.Capability, &rec.UsedAt, &params, &result, &rec.ExecutionTimeMs); err != nil {
			return nil, err
		}
		rec.Result = domain.Result(result)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rec.Parameters); err != nil {
				return nil, err
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Total(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM usage_records`).Scan(&n)
	return n, err
}

func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE used_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
