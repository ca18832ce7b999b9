package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events in the audit_events table. Schema:
//
//	CREATE TABLE audit_events (
//	    id           UUID PRIMARY KEY,
//	    type         TEXT NOT NULL,
//	    agent_id     TEXT NOT NULL,
//	    call_id      TEXT NOT NULL DEFAULT '',
//	    reason       TEXT NOT NULL DEFAULT '',
//	    held_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    message      TEXT NOT NULL DEFAULT '',
//	    metadata     TEXT NOT NULL DEFAULT '',
//	    created_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX audit_events_agent_idx ON audit_events (agent_id, created_at DESC);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO audit_events
			(id, type, agent_id, call_id, reason, held_seconds, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.AgentID, e.CallID, e.Reason, e.HeldSeconds, e.Message, e.Metadata, e.CreatedAt)
	return err
}

func (r *PostgresRepo) ListByAgent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id, type, agent_id, call_id, reason, held_seconds, message, metadata, created_at
		FROM audit_events
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.AgentID, &e.CallID, &e.Reason, &e.HeldSeconds, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
