package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"x402-delegation/backend/internal/telemetry/domain"
)

const eventColumns = `id, event_type, source, session_id, issuer, delegate, code, metadata, created_at`

// PostgresRepository stores events in the delegation_events table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a telemetry repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Save persists the event. It sets e.ID on success.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.Event) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO delegation_events (event_type, source, session_id, issuer, delegate, code, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.EventType, e.Source, nullString(e.SessionID), nullString(e.Issuer), nullString(e.Delegate),
		nullString(e.Code), eventMetadata(e.Metadata), e.CreatedAt,
	).Scan(&e.ID)
}

// GetByID returns the event for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM delegation_events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListBySession returns events for sessionID, newest first, paginated by limit and offset.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string, limit, offset int32) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM delegation_events WHERE session_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*domain.Event, error) {
	var e domain.Event
	var sessionID, issuer, delegate, code sql.NullString
	var meta []byte
	if err := s.Scan(&e.ID, &e.EventType, &e.Source, &sessionID, &issuer, &delegate, &code, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.SessionID, e.Issuer, e.Delegate, e.Code = sessionID.String, issuer.String, delegate.String, code.String
	if len(meta) > 0 && string(meta) != "{}" {
		e.Metadata = json.RawMessage(meta)
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func eventMetadata(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
