package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink appends audit records to a Postgres table. Schema (managed by
// the deployment, not this code):
//
//	CREATE TABLE audit_records (
//	    id         TEXT PRIMARY KEY,
//	    kind       TEXT NOT NULL,
//	    request_id TEXT,
//	    user_id    TEXT,
//	    device_id  TEXT,
//	    actor      TEXT,
//	    verdict    TEXT,
//	    payload    JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Append inserts one record. There is no UPDATE path anywhere in this sink.
func (ps *PostgresSink) Append(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = ps.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, kind, request_id, user_id, device_id, actor, verdict, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Kind, rec.RequestID, rec.UserID, rec.DeviceID, rec.Actor, rec.Verdict, payload, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ByRequest returns all records for a request in append order.
func (ps *PostgresSink) ByRequest(ctx context.Context, requestID string) ([]*Record, error) {
	rows, err := ps.db.QueryContext(ctx,
		`SELECT payload FROM audit_records WHERE request_id = $1 ORDER BY created_at ASC`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

var _ Sink = (*PostgresSink)(nil)
