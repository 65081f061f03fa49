// Package events defines the closed set of delegation lifecycle events and their dispatch.
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"x402-delegation/backend/internal/platform/errcode"
)

// TokenValidated is raised when a token passes the whole pipeline.
type TokenValidated struct {
	SessionID     string
	Issuer        string
	Delegate      string
	Capabilities  []string
	RemainingUses *int
	TimeRemaining int64
	At            time.Time
}

// TokenRejected is raised for every failed validation.
type TokenRejected struct {
	Code      errcode.Code
	Errors    []string
	SessionID string // empty when the token did not parse
	Issuer    string
	Delegate  string
	At        time.Time
}

// SessionCreated is raised when a token identity is first seen.
type SessionCreated struct {
	SessionID string
	Issuer    string
	Delegate  string
	At        time.Time
}

// SessionRevoked is raised when a session is deactivated.
type SessionRevoked struct {
	SessionID string
	At        time.Time
}

// UsageRecorded is raised after a usage record is appended.
type UsageRecorded struct {
	SessionID       string
	Capability      string
	Result          string
	ExecutionTimeMs int64
	At              time.Time
}

// Handler receives every event variant. Implementations embed Nop to ignore variants.
type Handler interface {
	TokenValidated(ctx context.Context, e TokenValidated)
	TokenRejected(ctx context.Context, e TokenRejected)
	SessionCreated(ctx context.Context, e SessionCreated)
	SessionRevoked(ctx context.Context, e SessionRevoked)
	UsageRecorded(ctx context.Context, e UsageRecorded)
}

// Nop ignores every event.
type Nop struct{}

func (Nop) TokenValidated(context.Context, TokenValidated) {}
func (Nop) TokenRejected(context.Context, TokenRejected)   {}
func (Nop) SessionCreated(context.Context, SessionCreated) {}
func (Nop) SessionRevoked(context.Context, SessionRevoked) {}
func (Nop) UsageRecorded(context.Context, UsageRecorded)   {}

// Dispatcher fans events out to registered handlers in registration order.
// A handler that panics is logged and does not affect the others or the caller.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
}

var _ Handler = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher over handlers.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Register adds h. Safe to call concurrently with dispatch.
func (d *Dispatcher) Register(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

func (d *Dispatcher) each(name string, fn func(Handler)) {
	d.mu.RLock()
	hs := d.handlers
	d.mu.RUnlock()
	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("events: %s handler panicked: %v", name, r)
				}
			}()
			fn(h)
		}()
	}
}

func (d *Dispatcher) TokenValidated(ctx context.Context, e TokenValidated) {
	d.each("token_validated", func(h Handler) { h.TokenValidated(ctx, e) })
}

func (d *Dispatcher) TokenRejected(ctx context.Context, e TokenRejected) {
	d.each("token_rejected", func(h Handler) { h.TokenRejected(ctx, e) })
}

func (d *Dispatcher) SessionCreated(ctx context.Context, e SessionCreated) {
	d.each("session_created", func(h Handler) { h.SessionCreated(ctx, e) })
}

func (d *Dispatcher) SessionRevoked(ctx context.Context, e SessionRevoked) {
	d.each("session_revoked", func(h Handler) { h.SessionRevoked(ctx, e) })
}

func (d *Dispatcher) UsageRecorded(ctx context.Context, e UsageRecorded) {
	d.each("usage_recorded", func(h Handler) { h.UsageRecorded(ctx, e) })
}
