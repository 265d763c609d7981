package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AuditLog represents a record stored in audit_logs. ActorID is the opaque
// identity supplied by the caller, empty for system jobs.
type AuditLog struct {
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

const systemActor = "system"

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	conn Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn Execer) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// Record persists the log entry. A missing actor falls back to the one
// carried in ctx, then to "system".
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.conn == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	actor := log.ActorID
	if actor == "" {
		actor = ActorFromContext(ctx)
	}
	if actor == "" {
		actor = systemActor
	}
	_, err = l.conn.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
