package booking

import (
	"errors"
	"time"
)

var (
	ErrUnknownAppointmentType = errors.New("unknown appointment type")
	ErrInvalidPaymentMethod   = errors.New("payment method not allowed for appointment type")
)

// policyTable is the static payment policy per appointment type. Unknown
// types fail closed rather than defaulting.
var policyTable = map[AppointmentType]PaymentOption{
	TypeConsultation: {
		Type:               TypeConsultation,
		Methods:            []PaymentMethod{MethodOnline, MethodPhysical, MethodInsurance, MethodPending},
		RequiresPrePayment: false,
		PriceCents:         3000,
		Notes:              "General consultation, payable at the clinic or online.",
	},
	TypeLabTest: {
		Type:               TypeLabTest,
		Methods:            []PaymentMethod{MethodOnline, MethodInsurance},
		RequiresPrePayment: true,
		PriceCents:         5000,
		Notes:              "Lab tests must be paid before the sample is taken.",
	},
	TypeVaccination: {
		Type:               TypeVaccination,
		Methods:            []PaymentMethod{MethodOnline, MethodPhysical, MethodPending},
		RequiresPrePayment: false,
		PriceCents:         2500,
		Notes:              "Vaccination, payable on site.",
	},
	TypeFollowUp: {
		Type:               TypeFollowUp,
		Methods:            []PaymentMethod{MethodPhysical, MethodPending},
		RequiresPrePayment: false,
		PriceCents:         1500,
		Notes:              "Follow-up visit, settled at the clinic.",
	},
}

// Policy maps appointment types to their payment rules. All lookups are pure.
type Policy struct {
	refundCutoff time.Duration
}

// NewPolicy creates a policy with the given refund cutoff: cancellations at
// least cutoff before the slot start get a full refund.
func NewPolicy(refundCutoff time.Duration) *Policy {
	return &Policy{refundCutoff: refundCutoff}
}

func (p *Policy) Option(t AppointmentType) (PaymentOption, error) {
	opt, ok := policyTable[t]
	if !ok {
		return PaymentOption{}, ErrUnknownAppointmentType
	}
	return opt, nil
}

func (p *Policy) AllowedMethods(t AppointmentType) ([]PaymentMethod, error) {
	opt, err := p.Option(t)
	if err != nil {
		return nil, err
	}
	return opt.Methods, nil
}

func (p *Policy) RequiresPrePayment(t AppointmentType) (bool, error) {
	opt, err := p.Option(t)
	if err != nil {
		return false, err
	}
	return opt.RequiresPrePayment, nil
}

func (p *Policy) PriceCents(t AppointmentType) (int64, error) {
	opt, err := p.Option(t)
	if err != nil {
		return 0, err
	}
	return opt.PriceCents, nil
}

// Validate checks that method is an allowed payment method for t.
func (p *Policy) Validate(t AppointmentType, method PaymentMethod) error {
	opt, err := p.Option(t)
	if err != nil {
		return err
	}
	for _, m := range opt.Methods {
		if m == method {
			return nil
		}
	}
	return ErrInvalidPaymentMethod
}

// RefundCents computes the refund for a cancellation at cancelledAt of an
// appointment scheduled at slotStart: full before the cutoff, half between
// cutoff and the slot time, nothing once the slot has passed.
func (p *Policy) RefundCents(t AppointmentType, slotStart, cancelledAt time.Time) (int64, error) {
	price, err := p.PriceCents(t)
	if err != nil {
		return 0, err
	}

	if !cancelledAt.Before(slotStart) {
		return 0, nil
	}
	if cancelledAt.Add(p.refundCutoff).After(slotStart) {
		return price / 2, nil
	}
	return price, nil
}
