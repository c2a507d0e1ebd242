package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

var (
	created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later   = created.Add(time.Hour)
)

func bookingRow() []string {
	return []string{"id", "customer_id", "professional_id", "service_id", "status", "payment_status",
		"requested_at", "address_json", "total_amount_cents", "currency",
		"gateway_order_id", "gateway_payment_id", "seq", "created_at", "updated_at"}
}

func newMock(t *testing.T) (*BookingRepo, *EventRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBookingRepo(db), NewEventRepo(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBookingRepoCreate(t *testing.T) {
	repo, _, mock := newMock(t)
	oid := "order_1"
	b := model.Booking{
		ID: "b1", CustomerID: "c1", ServiceID: "svc", Status: model.StatusPending,
		PaymentStatus: model.PaymentPending, RequestedAt: later,
		Address:          model.AddressSnapshot{Line1: "1 Main St", City: "Pune"},
		TotalAmountCents: 4999, Currency: "INR", GatewayOrderID: &oid,
		CreatedAt: created, UpdatedAt: created,
	}
	mock.ExpectExec("INSERT INTO bookings").
		WithArgs("b1", "c1", nil, "svc", "pending", "pending", later, sqlmock.AnyArg(), int64(4999), "INR",
			"order_1", nil, int64(0), created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}

	mock.ExpectExec("INSERT INTO bookings").WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if err := repo.Create(context.Background(), b); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestBookingRepoGet(t *testing.T) {
	repo, _, mock := newMock(t)
	rows := sqlmock.NewRows(bookingRow()).AddRow(
		"b1", "c1", "p1", "svc", "accepted", "completed",
		later, []byte(`{"line1":"1 Main St","city":"Pune"}`), int64(4999), "INR",
		"order_1", "pay_1", int64(2), created, later)
	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\?").WithArgs("b1").WillReturnRows(rows)

	b, err := repo.Get(context.Background(), "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Status != model.StatusAccepted || b.Professional() != "p1" || b.Seq != 2 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.Address.City != "Pune" || b.GatewayPaymentID == nil || *b.GatewayPaymentID != "pay_1" {
		t.Fatalf("unexpected address or payment id: %+v", b)
	}

	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\?").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(bookingRow()))
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func acceptMutation() Mutation {
	return Mutation{
		ExpectStatus:  model.StatusPending,
		ExpectPayment: model.PaymentCompleted,
		Status:        model.StatusAccepted,
		Kind:          model.EventTransition,
		Actor:         model.SystemActor,
		At:            later,
	}
}

func TestConditionalUpdateCommitsEvent(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings SET seq = seq \\+ 1, updated_at = GREATEST\\(updated_at, \\?\\), status = \\? WHERE id = \\? AND status = \\? AND payment_status = \\?").
		WithArgs(later, "accepted", "b1", "pending", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\?").WithArgs("b1").
		WillReturnRows(sqlmock.NewRows(bookingRow()).AddRow(
			"b1", "c1", nil, "svc", "accepted", "completed",
			later, []byte(`{}`), int64(100), "INR", "order_1", "pay_1", int64(2), created, later))
	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs("b1", int64(2), "transition", "pending", "accepted", "completed",
			model.SystemActor.ID, "SYSTEM", "c1", nil, later).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	b, ev, err := repo.ConditionalUpdate(context.Background(), "b1", acceptMutation())
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.Status != model.StatusAccepted || ev.Seq != 2 || ev.PriorStatus != model.StatusPending || ev.NewStatus != model.StatusAccepted {
		t.Fatalf("unexpected result %+v / %+v", b, ev)
	}
	expectationsMet(t, mock)
}

func TestConditionalUpdateConflictAndNotFound(t *testing.T) {
	repo, _, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM bookings WHERE id = \\?").WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()
	if _, _, err := repo.ConditionalUpdate(context.Background(), "b1", acceptMutation()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM bookings WHERE id = \\?").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectRollback()
	if _, _, err := repo.ConditionalUpdate(context.Background(), "nope", acceptMutation()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestConditionalUpdateDuplicateEventRollsBack(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bookings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT .+ FROM bookings WHERE id = \\?").
		WillReturnRows(sqlmock.NewRows(bookingRow()).AddRow(
			"b1", "c1", nil, "svc", "accepted", "completed",
			later, []byte(`{}`), int64(100), "INR", nil, nil, int64(2), created, later))
	mock.ExpectExec("INSERT INTO booking_events").WillReturnError(&mysql.MySQLError{Number: 1062})
	mock.ExpectRollback()

	if _, _, err := repo.ConditionalUpdate(context.Background(), "b1", acceptMutation()); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestConditionalUpdateClaim(t *testing.T) {
	repo, _, mock := newMock(t)
	pid := "p9"
	m := Mutation{
		ExpectStatus: model.StatusPending, ExpectPayment: model.PaymentCompleted, ExpectUnassigned: true,
		Status: model.StatusAccepted, ProfessionalID: &pid,
		Kind: model.EventTransition, Actor: model.Actor{ID: "p9", Role: model.RoleProfessional}, At: later,
	}
	mock.ExpectBegin()
	mock.ExpectExec("SET .*professional_id = \\? WHERE .* AND professional_id IS NULL").
		WithArgs(later, "accepted", "p9", "b1", "pending", "completed").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM bookings").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()
	if _, _, err := repo.ConditionalUpdate(context.Background(), "b1", m); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for claimed booking, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestBookingRepoQuery(t *testing.T) {
	repo, _, mock := newMock(t)
	mock.ExpectQuery("FROM bookings WHERE customer_id = \\? AND status = \\? ORDER BY created_at DESC, id ASC LIMIT \\? OFFSET \\?").
		WithArgs("c1", "pending", 20, 0).
		WillReturnRows(sqlmock.NewRows(bookingRow()).
			AddRow("b2", "c1", nil, "svc", "pending", "pending", later, []byte(`{}`), int64(1), "INR", nil, nil, int64(0), later, later).
			AddRow("b1", "c1", nil, "svc", "pending", "pending", later, []byte(`{}`), int64(1), "INR", nil, nil, int64(0), created, created))

	out, err := repo.Query(context.Background(), Filter{CustomerID: "c1", Status: model.StatusPending})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 || out[0].ID != "b2" || out[1].ID != "b1" {
		t.Fatalf("unexpected rows %+v", out)
	}

	mock.ExpectQuery("FROM bookings ORDER BY").WithArgs(100, 5).WillReturnRows(sqlmock.NewRows(bookingRow()))
	out, err = repo.Query(context.Background(), Filter{Limit: 500, Offset: 5})
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty result, got %v (%v)", out, err)
	}
	expectationsMet(t, mock)
}

func TestConditionalUpdatePaymentIDTaken(t *testing.T) {
	repo, _, mock := newMock(t)
	pay := "pay_1"
	m := Mutation{
		ExpectStatus: model.StatusPending, ExpectPayment: model.PaymentPending,
		PaymentStatus: model.PaymentCompleted, GatewayPaymentID: &pay,
		Kind: model.EventPayment, Actor: model.SystemActor, At: later,
	}
	mock.ExpectBegin()
	mock.ExpectExec("SET .*gateway_payment_id = \\?").
		WithArgs(later, "completed", "pay_1", "b2", "pending", "pending").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'pay_1' for key 'uq_bookings_payment'"})
	mock.ExpectRollback()
	if _, _, err := repo.ConditionalUpdate(context.Background(), "b2", m); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}
