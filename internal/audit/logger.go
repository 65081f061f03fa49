// Package audit records administrative actions taken by operators.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"x402-delegation/backend/internal/audit/domain"
	auditrepo "x402-delegation/backend/internal/audit/repository"
)

// SystemActor is the actor recorded for actions without an authenticated operator (e.g. seeding).
const SystemActor = "_system"

// IPExtractor returns the client IP from the request context.
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, entry Entry)
}

// Entry is the caller-supplied part of an audit log.
type Entry struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Status     int
	Metadata   string
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	actor := e.Actor
	if actor == "" {
		actor = SystemActor
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		Actor:      actor,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Status:     e.Status,
		IP:         ip,
		Metadata:   e.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", e.Action, e.Resource, err)
	}
}
