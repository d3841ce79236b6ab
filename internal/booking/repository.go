package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// SlotRepository owns slot records. Reserve is the single
// concurrency-sensitive primitive in the core: a compare-and-set on
// IsBooked so that exactly one of any number of concurrent reservations
// wins.
type SlotRepository interface {
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// Reserve flips IsBooked false -> true atomically. Returns
	// ErrSlotAlreadyBooked when the slot was taken, ErrSlotNotFound when
	// it does not exist.
	Reserve(ctx context.Context, id uuid.UUID) error

	// Release frees the slot. Idempotent: releasing a free slot is a no-op.
	Release(ctx context.Context, id uuid.UUID) error
}

// AppointmentRepository persists appointments and the audit event log.
type AppointmentRepository interface {
	InsertAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus performs a guarded transition: the row is
	// updated only if its current status equals from. Returns
	// ErrAppointmentNotFound when no row matched.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error

	// Completion worker
	FindElapsedBooked(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// PaymentProcessor executes a payment or refund attempt. Business declines
// come back as Success=false results; only infrastructure faults are errors.
type PaymentProcessor interface {
	Process(ctx context.Context, appointmentID uuid.UUID, method PaymentMethod, amountCents int64) (*PaymentResult, error)
	Refund(ctx context.Context, transactionID string, amountCents int64) (*PaymentResult, error)
}

// IdempotencyStore remembers which appointment a client-supplied booking
// request id resolved to.
type IdempotencyStore interface {
	Lookup(ctx context.Context, requestID string) (uuid.UUID, bool, error)
	Record(ctx context.Context, requestID string, appointmentID uuid.UUID) error
}
