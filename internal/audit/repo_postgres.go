package audit

import (
	"context"
	"database/sql"

	"followup-caller/internal/apperr"
)

// PostgresRepo appends to call_events. There is no update path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (
  id, type, record_id, slot, provider_call_id, provider_status, status,
  actor, ip_address, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.RecordID, e.Slot, e.ProviderCallID, e.ProviderStatus, e.Status,
		e.Actor, e.IPAddress, e.Message, metadata, e.CreatedAt,
	)
	if err != nil {
		return apperr.TransientIO("append call event", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	const q = `
SELECT id, type, record_id, slot, provider_call_id, provider_status, status,
       actor, ip_address, message, COALESCE(metadata::text, ''), created_at
FROM call_events
WHERE ($1 = '' OR record_id = $1)
  AND ($2 = '' OR provider_call_id = $2)
ORDER BY created_at, id
LIMIT $3`
	rows, err := r.db.QueryContext(ctx, q, f.RecordID, f.ProviderCallID, limit)
	if err != nil {
		return nil, apperr.TransientIO("list call events", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			e  Event
			tp string
		)
		if err := rows.Scan(&e.ID, &tp, &e.RecordID, &e.Slot, &e.ProviderCallID, &e.ProviderStatus, &e.Status,
			&e.Actor, &e.IPAddress, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, apperr.TransientIO("scan call event", err)
		}
		e.Type = EventType(tp)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.TransientIO("list call events", err)
	}
	return out, nil
}
