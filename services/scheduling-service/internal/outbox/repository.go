package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dkalita/servicebook/libs/db"
	otelx "github.com/dkalita/servicebook/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	body, err := evt.Payload()
	if err != nil {
		return err
	}
	traceID, spanID := otelx.TraceContextStrings(ctx)
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, appointment_id, customer_id, event_type, payload, trace_id, span_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AppointmentID, evt.CustomerID, evt.EventType, body, traceID, spanID)
	return err
}

type Record struct {
	ID            int64
	EventID       string
	AppointmentID string
	CustomerID    string
	EventType     string
	Payload       []byte
	TraceID       string
	SpanID        string
	CreatedAt     time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, appointment_id, customer_id, event_type, payload, trace_id, span_id, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AppointmentID, &rcd.CustomerID, &rcd.EventType, &rcd.Payload, &rcd.TraceID, &rcd.SpanID, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
