package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// BookingRepo is the MySQL booking store.  A conditional update and the
// append of its event to booking_events run in one transaction, and the
// event's sequence number is read from the row the update just
// incremented, so a booking's event numbers have no gaps or duplicates
// even when several server instances write concurrently.  All timestamps
// are stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, customer_id, professional_id, service_id, status, payment_status,
       requested_at, address_json, total_amount_cents, currency,
       gateway_order_id, gateway_payment_id, seq, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner) (model.Booking, error) {
	var (
		b            model.Booking
		professional sql.NullString
		orderID      sql.NullString
		paymentID    sql.NullString
		address      []byte
	)
	if err := s.Scan(
		&b.ID, &b.CustomerID, &professional, &b.ServiceID, &b.Status, &b.PaymentStatus,
		&b.RequestedAt, &address, &b.TotalAmountCents, &b.Currency,
		&orderID, &paymentID, &b.Seq, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return model.Booking{}, err
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &b.Address); err != nil {
			return model.Booking{}, fmt.Errorf("decode address: %w", err)
		}
	}
	b.ProfessionalID = nullable(professional)
	b.GatewayOrderID = nullable(orderID)
	b.GatewayPaymentID = nullable(paymentID)
	return b, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// Create inserts a new booking row.  A duplicate id or gateway order id
// is reported as ErrConflict.
func (r *BookingRepo) Create(ctx context.Context, b model.Booking) error {
	address, err := json.Marshal(b.Address)
	if err != nil {
		return fmt.Errorf("encode address: %w", err)
	}
	const q = `INSERT INTO bookings (id, customer_id, professional_id, service_id, status, payment_status,
                      requested_at, address_json, total_amount_cents, currency,
                      gateway_order_id, gateway_payment_id, seq, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		b.ID, b.CustomerID, nullString(b.ProfessionalID), b.ServiceID, string(b.Status), string(b.PaymentStatus),
		b.RequestedAt.UTC(), address, b.TotalAmountCents, b.Currency,
		nullString(b.GatewayOrderID), nullString(b.GatewayPaymentID), b.Seq, b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if isDuplicateKey(err) {
		return ErrConflict
	}
	return err
}

// Get returns the booking with the given id or ErrNotFound.
func (r *BookingRepo) Get(ctx context.Context, id string) (model.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, ErrNotFound
	}
	return b, err
}

// ConditionalUpdate applies m as a single compare-and-swap.  The UPDATE
// carries the expectations in its WHERE clause; zero affected rows means
// either the booking does not exist (ErrNotFound) or it moved on since the
// caller read it (ErrConflict).  On success the updated row is read back
// under the row lock the UPDATE holds and its event is inserted before
// commit.
func (r *BookingRepo) ConditionalUpdate(ctx context.Context, id string, m Mutation) (model.Booking, model.TransitionEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Booking{}, model.TransitionEvent{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Prior status is part of the expectation, so it is known without a read.
	prior := model.Booking{Status: m.ExpectStatus}

	set := []string{"seq = seq + 1", "updated_at = GREATEST(updated_at, ?)"}
	args := []any{m.At.UTC()}
	if m.Status != "" {
		set = append(set, "status = ?")
		args = append(args, string(m.Status))
	}
	if m.PaymentStatus != "" {
		set = append(set, "payment_status = ?")
		args = append(args, string(m.PaymentStatus))
	}
	if m.ProfessionalID != nil {
		set = append(set, "professional_id = ?")
		args = append(args, *m.ProfessionalID)
	}
	if m.GatewayPaymentID != nil {
		set = append(set, "gateway_payment_id = ?")
		args = append(args, *m.GatewayPaymentID)
	}
	where := []string{"id = ?", "status = ?"}
	args = append(args, id, string(m.ExpectStatus))
	if m.ExpectPayment != "" {
		where = append(where, "payment_status = ?")
		args = append(args, string(m.ExpectPayment))
	}
	if m.ExpectUnassigned {
		where = append(where, "professional_id IS NULL")
	}
	q := "UPDATE bookings SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")

	res, err := tx.ExecContext(ctx, q, args...)
	if isDuplicateKey(err) {
		// uq_bookings_payment: the payment id already belongs to another booking.
		return model.Booking{}, model.TransitionEvent{}, ErrConflict
	}
	if err != nil {
		return model.Booking{}, model.TransitionEvent{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Booking{}, model.TransitionEvent{}, err
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Booking{}, model.TransitionEvent{}, ErrNotFound
		}
		if err != nil {
			return model.Booking{}, model.TransitionEvent{}, err
		}
		return model.Booking{}, model.TransitionEvent{}, ErrConflict
	}

	next, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return model.Booking{}, model.TransitionEvent{}, err
	}
	ev := m.eventFor(prior, next)
	if err := insertEventTx(ctx, tx, ev); err != nil {
		// (booking_id, seq) is the primary key of booking_events.
		if isDuplicateKey(err) {
			return model.Booking{}, model.TransitionEvent{}, ErrConflict
		}
		return model.Booking{}, model.TransitionEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Booking{}, model.TransitionEvent{}, err
	}
	committed = true
	return next, ev, nil
}

// Query returns bookings matching f ordered by creation time, newest
// first.
func (r *BookingRepo) Query(ctx context.Context, f Filter) ([]model.Booking, error) {
	f = f.normalized()
	var (
		where []string
		args  []any
	)
	if f.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, f.CustomerID)
	}
	if f.ProfessionalID != "" {
		where = append(where, "professional_id = ?")
		args = append(args, f.ProfessionalID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
