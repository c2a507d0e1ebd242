package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/Krishnamurari7/urban-services-platform/internal/model"
)

// MemoryStore is an in-process booking store and event log.  It backs
// STORE_DRIVER=memory for single-instance development and the unit tests
// of the packages above it.  Its mutex plays the role the row lock plays
// in MySQL: a conditional update and its event append are one step.
// Gateway order and payment ids are unique across bookings, like the
// unique keys on the bookings table.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]model.Booking
	events   map[string][]model.TransitionEvent
	orders   map[string]string // gateway order id -> booking id
	payments map[string]string // gateway payment id -> booking id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]model.Booking),
		events:   make(map[string][]model.TransitionEvent),
		orders:   make(map[string]string),
		payments: make(map[string]string),
	}
}

// Create inserts a new booking.  An existing id or gateway order id is
// reported as a conflict.
func (s *MemoryStore) Create(_ context.Context, b model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return ErrConflict
	}
	if b.GatewayOrderID != nil {
		if _, ok := s.orders[*b.GatewayOrderID]; ok {
			return ErrConflict
		}
	}
	if b.GatewayPaymentID != nil {
		if _, ok := s.payments[*b.GatewayPaymentID]; ok {
			return ErrConflict
		}
		s.payments[*b.GatewayPaymentID] = b.ID
	}
	if b.GatewayOrderID != nil {
		s.orders[*b.GatewayOrderID] = b.ID
	}
	s.bookings[b.ID] = b
	return nil
}

// Get returns the booking with the given id or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, ErrNotFound
	}
	return b, nil
}

// ConditionalUpdate applies m to the booking if its expectations hold and
// records the resulting event.
func (s *MemoryStore) ConditionalUpdate(_ context.Context, id string, m Mutation) (model.Booking, model.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, model.TransitionEvent{}, ErrNotFound
	}
	if !m.matches(prior) {
		return model.Booking{}, model.TransitionEvent{}, ErrConflict
	}
	if m.GatewayPaymentID != nil {
		if owner, ok := s.payments[*m.GatewayPaymentID]; ok && owner != id {
			return model.Booking{}, model.TransitionEvent{}, ErrConflict
		}
		s.payments[*m.GatewayPaymentID] = id
	}
	next := m.apply(prior)
	ev := m.eventFor(prior, next)
	s.bookings[id] = next
	s.events[id] = append(s.events[id], ev)
	return next, ev, nil
}

// Query returns bookings matching f, newest first.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]model.Booking, error) {
	f = f.normalized()
	s.mu.RLock()
	out := make([]model.Booking, 0)
	for _, b := range s.bookings {
		if f.CustomerID != "" && b.CustomerID != f.CustomerID {
			continue
		}
		if f.ProfessionalID != "" && b.Professional() != f.ProfessionalID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset >= len(out) {
		return []model.Booking{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Since returns the events of a booking with a sequence number greater
// than after, in order.
func (s *MemoryStore) Since(_ context.Context, bookingID string, after uint64) ([]model.TransitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[bookingID]
	// Seq n lives at index n-1.
	if after >= uint64(len(all)) {
		return []model.TransitionEvent{}, nil
	}
	out := make([]model.TransitionEvent, len(all)-int(after))
	copy(out, all[after:])
	return out, nil
}
