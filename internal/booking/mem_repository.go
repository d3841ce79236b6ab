package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of SlotRepository and
// AppointmentRepository. Slots live in a single arena keyed by id and
// Reserve does a mutex-guarded compare-and-set, so the same
// one-winner guarantee holds as with the Postgres WHERE NOT is_booked
// update. Used by tests and dev tooling.
type MemoryStore struct {
	mu           sync.Mutex
	slots        map[uuid.UUID]*Slot
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:        make(map[uuid.UUID]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

// AddSlot registers a slot. Test/seed helper, not part of the repository
// contracts.
func (m *MemoryStore) AddSlot(s Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.slots[s.ID] = &cp
}

func (m *MemoryStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Reserve(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.IsBooked {
		return ErrSlotAlreadyBooked
	}
	s.IsBooked = true
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsBooked = false
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) InsertAppointment(ctx context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *appt
	now := time.Now()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.appointments[appt.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.PaymentStatus = status
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FindElapsedBooked(ctx context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusBooked && a.Time.Before(now) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log. Test helper.
func (m *MemoryStore) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EventLog(nil), m.events...)
}

// MemoryIdempotencyStore is the in-memory counterpart of the Redis-backed
// booking idempotency store.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]uuid.UUID
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]uuid.UUID)}
}

func (m *MemoryIdempotencyStore) Lookup(ctx context.Context, requestID string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[requestID]
	return id, ok, nil
}

func (m *MemoryIdempotencyStore) Record(ctx context.Context, requestID string, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[requestID]; !ok {
		m.entries[requestID] = appointmentID
	}
	return nil
}
