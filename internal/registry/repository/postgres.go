package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"x402-delegation/backend/internal/registry/domain"
)

// PostgresRepository persists services in the registry_services table.
// Structured fields are stored as JSONB.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a registry repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const serviceColumns = `id, name, base_url, provider, x402_config, manifest, delegation_endpoints, tags, status, created_at, updated_at, last_verified, last_checked`

// GetByID returns the service for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Service, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM registry_services WHERE id = $1`, id)
	s, err := scanService(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) Save(ctx context.Context, s *domain.Service) error {
	x402, err := json.Marshal(s.X402)
	if err != nil {
		return err
	}
	manifest, err := json.Marshal(s.Manifest)
	if err != nil {
		return err
	}
	endpoints, err := json.Marshal(s.DelegationEndpoints)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(s.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO registry_services (`+serviceColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE SET
		   provider = EXCLUDED.provider, x402_config = EXCLUDED.x402_config, manifest = EXCLUDED.manifest,
		   delegation_endpoints = EXCLUDED.delegation_endpoints, tags = EXCLUDED.tags, status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at, last_verified = EXCLUDED.last_verified,
		   last_checked = EXCLUDED.last_checked`,
		s.ID, s.Name, s.BaseURL, s.Provider, x402, manifest, endpoints, tags, string(s.Status),
		s.CreatedAt, s.UpdatedAt, s.LastVerified, s.LastChecked)
	return err
}

func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Service, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM registry_services`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanService(row scanner) (*domain.Service, error) {
	var s domain.Service
	var status string
	var x402, manifest, endpoints, tags []byte
	var lastVerified, lastChecked sql.NullTime
	if err := row.Scan(&s.ID, &s.Name, &s.BaseURL, &s.Provider, &x402, &manifest, &endpoints, &tags,
		&status, &s.CreatedAt, &s.UpdatedAt, &lastVerified, &lastChecked); err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	if lastVerified.Valid {
		t := lastVerified.Time
		s.LastVerified = &t
	}
	if lastChecked.Valid {
		t := lastChecked.Time
		s.LastChecked = &t
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{{x402, &s.X402}, {manifest, &s.Manifest}, {endpoints, &s.DelegationEndpoints}, {tags, &s.Tags}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
