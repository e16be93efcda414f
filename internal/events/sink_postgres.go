package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink persists events for the off-ledger record store. This
// sink is pure I/O; ordering and atomicity are the dispatcher's
// business. Ingestion is idempotent on event id via ON CONFLICT.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Schema is the DDL the sink expects. Kept here so integration tests
// and deployment migrations cannot drift from the insert statement.
// seq orders events within a shared clock reading.
const Schema = `
CREATE TABLE IF NOT EXISTS ledger_events (
	seq         BIGSERIAL,
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	payload     JSONB NOT NULL,
	emitted_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_events_key_idx ON ledger_events (name, natural_key);
`

func (s *PostgresSink) Ingest(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := `
		INSERT INTO ledger_events (id, name, natural_key, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, event.ID, string(event.Name), event.Key, payload, event.Timestamp); err != nil {
		return fmt.Errorf("ingest event: %w", err)
	}
	return nil
}

// ListByKey returns events for a natural key in ingestion order. The
// sequence column disambiguates events sharing a timestamp, which one
// batch produces.
func (s *PostgresSink) ListByKey(ctx context.Context, name Name, key string) ([]Event, error) {
	query := `
		SELECT id, name, natural_key, payload, emitted_at
		FROM ledger_events
		WHERE name = $1 AND natural_key = $2
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, string(name), key)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var event Event
		var payload []byte
		if err := rows.Scan(&event.ID, &event.Name, &event.Key, &payload, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		event.Payload = decoded
		out = append(out, event)
	}
	return out, rows.Err()
}
