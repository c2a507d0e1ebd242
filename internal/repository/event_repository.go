package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// EventRepo reads the booking_events table written by
// BookingRepo.ConditionalUpdate.  It is the durable log behind catch-up
// reads.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Since returns the events of a booking with seq greater than after in
// ascending order.  An unknown booking yields an empty slice.
func (r *EventRepo) Since(ctx context.Context, bookingID string, after uint64) ([]model.TransitionEvent, error) {
	const q = `SELECT booking_id, seq, kind, prior_status, new_status, payment_status,
                      actor_id, actor_role, customer_id, professional_id, occurred_at
               FROM booking_events
               WHERE booking_id = ? AND seq > ?
               ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, q, bookingID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.TransitionEvent, 0)
	for rows.Next() {
		var (
			ev           model.TransitionEvent
			professional sql.NullString
		)
		if err := rows.Scan(
			&ev.BookingID, &ev.Seq, &ev.Kind, &ev.PriorStatus, &ev.NewStatus, &ev.PaymentStatus,
			&ev.ActorID, &ev.ActorRole, &ev.CustomerID, &professional, &ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		ev.ProfessionalID = professional.String
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// insertEventTx appends ev inside the caller's transaction.
func insertEventTx(ctx context.Context, tx *sql.Tx, ev model.TransitionEvent) error {
	const q = `INSERT INTO booking_events (booking_id, seq, kind, prior_status, new_status, payment_status,
                      actor_id, actor_role, customer_id, professional_id, occurred_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var professional sql.NullString
	if ev.ProfessionalID != "" {
		professional = sql.NullString{String: ev.ProfessionalID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, q,
		ev.BookingID, ev.Seq, string(ev.Kind), string(ev.PriorStatus), string(ev.NewStatus), string(ev.PaymentStatus),
		ev.ActorID, string(ev.ActorRole), ev.CustomerID, professional, ev.OccurredAt,
	)
	return err
}

// isDuplicateKey reports whether err is MySQL error 1062 (ER_DUP_ENTRY).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
