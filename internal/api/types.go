package api

import (
	"time"

	"github.com/google/uuid"
)

type BookRequest struct {
	RequestID        string `json:"request_id,omitempty"`
	UserID           string `json:"user_id"`
	SlotID           string `json:"slot_id"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	PaymentMethod    string `json:"payment_method"`
	Notes            string `json:"notes,omitempty"`
	RemindersEnabled bool   `json:"reminders_enabled"`
}

type BookResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Duplicate     bool      `json:"duplicate,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	AmountCents   int64     `json:"amount_cents"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Instructions  string    `json:"payment_instructions"`
}

type CancelResponse struct {
	AppointmentID     uuid.UUID `json:"appointment_id"`
	RefundAmountCents int64     `json:"refund_amount_cents"`
	RefundStatus      string    `json:"refund_status,omitempty"`
	RefundError       string    `json:"refund_error,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	SlotID        uuid.UUID `json:"slot_id"`
	ClinicID      uuid.UUID `json:"clinic_id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Time          time.Time `json:"time"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	AmountCents   int64     `json:"amount_cents"`
}

type PaymentOptionResponse struct {
	Type               string   `json:"type"`
	Methods            []string `json:"allowed_methods"`
	RequiresPrePayment bool     `json:"requires_prepayment"`
	PriceCents         int64    `json:"price_cents"`
	Notes              string   `json:"notes,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
