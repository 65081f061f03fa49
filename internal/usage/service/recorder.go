// Package service implements the append-only usage recorder.
package service

import (
	"context"
	"errors"
	"time"

	"x402-delegation/backend/internal/usage/domain"
)

// ErrInvalidRecord is returned for a record without a session id or capability.
var ErrInvalidRecord = errors.New("usage record requires session_id and capability")

// Repository is the persistence the recorder needs.
type Repository interface {
	Append(ctx context.Context, rec *domain.Record) error
	CountSince(ctx context.Context, sessionID string, since time.Time) (int, error)
	CountResult(ctx context.Context, sessionID string, result domain.Result) (int, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Record, error)
	Total(ctx context.Context) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder appends usage records and answers the counts used for rate and usage limits.
type Recorder struct {
	repo Repository
	nowF func() time.Time
}

// NewRecorder returns a usage recorder backed by repo.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, nowF: time.Now}
}

// Record appends rec. A zero UsedAt is stamped with the current time.
func (r *Recorder) Record(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.SessionID == "" || rec.Capability == "" {
		return ErrInvalidRecord
	}
	if rec.UsedAt.IsZero() {
		rec.UsedAt = r.nowF().UTC()
	}
	if rec.Result == "" {
		rec.Result = domain.ResultSuccess
	}
	return r.repo.Append(ctx, rec)
}

// CountSince counts records of sessionID at or after since.
func (r *Recorder) CountSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	return r.repo.CountSince(ctx, sessionID, since)
}

// Count counts the successful invocations recorded for sessionID.
func (r *Recorder) Count(ctx context.Context, sessionID string) (int, error) {
	return r.repo.CountResult(ctx, sessionID, domain.ResultSuccess)
}

// List returns the records of sessionID in append order.
func (r *Recorder) List(ctx context.Context, sessionID string) ([]*domain.Record, error) {
	return r.repo.ListBySession(ctx, sessionID)
}

// Total returns the number of retained records.
func (r *Recorder) Total(ctx context.Context) (int, error) {
	return r.repo.Total(ctx)
}

// Cleanup drops records whose own used_at is older than domain.Retention.
func (r *Recorder) Cleanup(ctx context.Context, now time.Time) (int, error) {
	return r.repo.DeleteBefore(ctx, now.Add(-domain.Retention))
}
