package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "booked"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

type AppointmentType string

const (
	TypeConsultation AppointmentType = "CONSULTATION"
	TypeLabTest      AppointmentType = "LAB_TEST"
	TypeVaccination  AppointmentType = "VACCINATION"
	TypeFollowUp     AppointmentType = "FOLLOW_UP"
)

type PaymentMethod string

const (
	MethodOnline    PaymentMethod = "ONLINE"
	MethodPhysical  PaymentMethod = "PHYSICAL"
	MethodInsurance PaymentMethod = "INSURANCE"
	MethodPending   PaymentMethod = "PENDING"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentWaived     PaymentStatus = "waived"
)

// Slot is a bookable clinic time window. IsBooked flips only through the
// repository's atomic Reserve/Release operations.
type Slot struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	StartTime time.Time
	IsBooked  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	SlotID           uuid.UUID
	ClinicID         uuid.UUID
	Type             AppointmentType
	Title            string
	Time             time.Time
	Status           AppointmentStatus
	Notes            *string
	RemindersEnabled bool
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	AmountCents      int64
	TransactionID    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// PaymentOption describes the permissible payment path for an appointment
// type. Derived from the static policy table, never persisted.
type PaymentOption struct {
	Type               AppointmentType
	Methods            []PaymentMethod
	RequiresPrePayment bool
	PriceCents         int64
	Notes              string
}

// PaymentResult is the outcome of a payment attempt. Business declines are
// carried as Success=false values; only infrastructure faults surface as
// errors from the processor.
type PaymentResult struct {
	Success       bool
	TransactionID string
	Status        PaymentStatus
	Message       string
}

type BookingRequest struct {
	RequestID        string // optional client idempotency key
	UserID           uuid.UUID
	SlotID           uuid.UUID
	Type             AppointmentType
	Title            string
	Method           PaymentMethod
	Notes            string
	RemindersEnabled bool
}

type BookingResult struct {
	AppointmentID uuid.UUID
	Duplicate     bool // true when served from a previously recorded request id
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	AmountCents   int64
	TransactionID *string
	Instructions  string
}

type CancellationResult struct {
	AppointmentID     uuid.UUID
	RefundAmountCents int64
	RefundStatus      PaymentStatus
	RefundError       string // set when the refund attempt failed; slot stays released
}
