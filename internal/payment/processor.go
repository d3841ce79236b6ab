package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medibook/appointment-booking/internal/booking"
)

// Processor executes payment attempts for the booking service. Methods that
// do not charge online (PENDING, PHYSICAL, INSURANCE) never touch the
// gateway.
type Processor struct {
	gateway Gateway
}

func NewProcessor(gateway Gateway) *Processor {
	return &Processor{gateway: gateway}
}

func (p *Processor) Process(ctx context.Context, appointmentID uuid.UUID, method booking.PaymentMethod, amountCents int64) (*booking.PaymentResult, error) {
	switch method {
	case booking.MethodPending:
		return &booking.PaymentResult{
			Success: true,
			Status:  booking.PaymentPending,
			Message: "payment deferred",
		}, nil

	case booking.MethodPhysical:
		return &booking.PaymentResult{
			Success: true,
			Status:  booking.PaymentPending,
			Message: "payable at the clinic",
		}, nil

	case booking.MethodInsurance:
		return &booking.PaymentResult{
			Success: true,
			Status:  booking.PaymentWaived,
			Message: "billed to insurance",
		}, nil

	case booking.MethodOnline:
		resp, err := p.gateway.Charge(ctx, ChargeRequest{
			Reference:      appointmentID.String(),
			AmountCents:    amountCents,
			IdempotencyKey: fmt.Sprintf("charge-%s", appointmentID),
		})

		var decline *DeclineError
		if errors.As(err, &decline) {
			return &booking.PaymentResult{
				Success: false,
				Status:  booking.PaymentFailed,
				Message: decline.Reason,
			}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("charge: %w", err)
		}

		return &booking.PaymentResult{
			Success:       true,
			TransactionID: resp.TransactionID,
			Status:        booking.PaymentCompleted,
			Message:       "payment completed",
		}, nil

	default:
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
}

func (p *Processor) Refund(ctx context.Context, transactionID string, amountCents int64) (*booking.PaymentResult, error) {
	err := p.gateway.Refund(ctx, transactionID, amountCents)

	var decline *DeclineError
	if errors.As(err, &decline) {
		return &booking.PaymentResult{
			Success:       false,
			TransactionID: transactionID,
			Status:        booking.PaymentFailed,
			Message:       decline.Reason,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}

	return &booking.PaymentResult{
		Success:       true,
		TransactionID: transactionID,
		Status:        booking.PaymentRefunded,
		Message:       "refund completed",
	}, nil
}
