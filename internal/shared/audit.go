// Package shared holds cross-module infrastructure with no domain logic.
package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row destined for audit_logs. EntityID is a string so
// callers can address rows by numeric id or by natural key.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

var errAuditIncomplete = errors.New("shared: audit log requires action, entity and entity_id")

// AuditLogger persists audit rows outside the caller's transaction. Ledger
// operations treat audit failures as non-fatal, so Record must never panic.
type AuditLogger struct {
	pool *pgxpool.Pool
}

func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record writes the entry; zero At is filled with the current UTC time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errAuditIncomplete
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, entry.At)
	return err
}
