package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/medibook/appointment-booking/internal/redis"
)

const (
	EventBookingConfirmed     = "BOOKING_CONFIRMED"
	EventBookingCancelled     = "BOOKING_CANCELLED"
	EventPaymentRefunded      = "PAYMENT_REFUNDED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrSlotBusy           = errors.New("slot is currently being booked, please retry")
	ErrAlreadyCancelled   = errors.New("appointment is already cancelled")
	ErrAlreadyCompleted   = errors.New("appointment is already completed")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
	ErrPersistenceFailed  = errors.New("failed to persist appointment")
)

type Service struct {
	slots     SlotRepository
	appts     AppointmentRepository
	processor PaymentProcessor
	policy    *Policy
	locker    redisclient.Locker
	idem      IdempotencyStore // optional
}

func NewService(slots SlotRepository, appts AppointmentRepository, processor PaymentProcessor, policy *Policy, locker redisclient.Locker, idem IdempotencyStore) *Service {
	return &Service{
		slots:     slots,
		appts:     appts,
		processor: processor,
		policy:    policy,
		locker:    locker,
		idem:      idem,
	}
}

// Book reserves a slot for a user and reconciles the payment path for the
// appointment type. Prepayment, when the policy demands it, happens before
// the slot is reserved; a charge for a slot that turns out to be taken is
// always compensated with a refund.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if dup := s.lookupDuplicate(ctx, req.RequestID); dup != nil {
		return dup, nil
	}

	slot, err := s.slots.GetSlotByID(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	// Early exit; the reserve compare-and-set below closes the race window.
	if slot.IsBooked {
		return nil, ErrSlotAlreadyBooked
	}

	if err := s.policy.Validate(req.Type, req.Method); err != nil {
		return nil, err
	}
	opt, err := s.policy.Option(req.Type)
	if err != nil {
		return nil, err
	}

	apptID := uuid.New()
	payStatus := deferredStatus(req.Method)
	var txID *string

	if opt.RequiresPrePayment && req.Method != MethodPending {
		res, err := s.processor.Process(ctx, apptID, req.Method, opt.PriceCents)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
		if !res.Success {
			return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, res.Message)
		}
		payStatus = res.Status
		if res.TransactionID != "" {
			tx := res.TransactionID
			txID = &tx
		}
	}

	appt := &Appointment{
		ID:               apptID,
		UserID:           req.UserID,
		SlotID:           req.SlotID,
		ClinicID:         slot.ClinicID,
		Type:             req.Type,
		Title:            req.Title,
		Time:             slot.StartTime,
		Status:           StatusBooked,
		RemindersEnabled: req.RemindersEnabled,
		PaymentMethod:    req.Method,
		PaymentStatus:    payStatus,
		AmountCents:      opt.PriceCents,
		TransactionID:    txID,
	}
	if req.Notes != "" {
		notes := req.Notes
		appt.Notes = &notes
	}

	err = s.locker.WithSlotLock(ctx, req.SlotID, func(lockCtx context.Context) error {
		if err := s.slots.Reserve(lockCtx, req.SlotID); err != nil {
			return err
		}
		if err := s.appts.InsertAppointment(lockCtx, appt); err != nil {
			if relErr := s.slots.Release(lockCtx, req.SlotID); relErr != nil {
				log.Printf("failed to release slot %s after persistence failure: %v", req.SlotID, relErr)
			}
			return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
		return nil
	})
	if err != nil {
		// Any charge taken in the prepayment step must not outlive a
		// failed reservation.
		s.refundCharge(ctx, payStatus, txID, opt.PriceCents)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	s.recordRequestID(ctx, req.RequestID, apptID)
	s.logEvent(ctx, apptID, EventBookingConfirmed, map[string]any{
		"slot_id":        req.SlotID.String(),
		"user_id":        req.UserID.String(),
		"type":           string(req.Type),
		"payment_method": string(req.Method),
		"payment_status": string(payStatus),
		"amount_cents":   opt.PriceCents,
	})

	return &BookingResult{
		AppointmentID: apptID,
		PaymentMethod: req.Method,
		PaymentStatus: payStatus,
		AmountCents:   opt.PriceCents,
		TransactionID: txID,
		Instructions:  paymentInstructions(req.Method, opt, payStatus),
	}, nil
}

// Cancel reverses a booking: guarded status flip, slot release, refund per
// policy. A failed refund is reported in the result but never re-books the
// slot.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (*CancellationResult, error) {
	appt, err := s.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusCompleted:
		return nil, ErrAlreadyCompleted
	}

	err = s.locker.WithSlotLock(ctx, appt.SlotID, func(lockCtx context.Context) error {
		if _, err := s.appts.UpdateAppointmentStatus(lockCtx, appointmentID, StatusBooked, StatusCancelled); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Lost the race to another cancel or the completion worker.
				return ErrAlreadyCancelled
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if err := s.slots.Release(lockCtx, appt.SlotID); err != nil && !errors.Is(err, ErrSlotNotFound) {
			log.Printf("failed to release slot %s for cancelled appointment %s: %v", appt.SlotID, appointmentID, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBusy
		}
		return nil, err
	}

	result := &CancellationResult{AppointmentID: appointmentID}

	if appt.PaymentStatus == PaymentCompleted && appt.TransactionID != nil {
		refund, err := s.policy.RefundCents(appt.Type, appt.Time, time.Now())
		if err != nil {
			return nil, fmt.Errorf("compute refund: %w", err)
		}
		result.RefundAmountCents = refund

		if refund > 0 {
			res, err := s.processor.Refund(ctx, *appt.TransactionID, refund)
			switch {
			case err != nil:
				result.RefundStatus = PaymentFailed
				result.RefundError = err.Error()
			case !res.Success:
				result.RefundStatus = PaymentFailed
				result.RefundError = res.Message
			default:
				result.RefundStatus = PaymentRefunded
				if err := s.appts.UpdatePaymentStatus(ctx, appointmentID, PaymentRefunded); err != nil {
					log.Printf("failed to mark appointment %s refunded: %v", appointmentID, err)
				}
				s.logEvent(ctx, appointmentID, EventPaymentRefunded, map[string]any{
					"transaction_id": *appt.TransactionID,
					"amount_cents":   refund,
				})
			}
		}
	}

	s.logEvent(ctx, appointmentID, EventBookingCancelled, map[string]any{
		"slot_id":      appt.SlotID.String(),
		"refund_cents": result.RefundAmountCents,
	})

	return result, nil
}

// PaymentOptions returns the payment policy row for an appointment type.
func (s *Service) PaymentOptions(appointmentType AppointmentType) (PaymentOption, error) {
	return s.policy.Option(appointmentType)
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appts.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// CompleteElapsed is intended to be called by the worker periodically: it
// moves booked appointments whose slot time has passed to completed.
func (s *Service) CompleteElapsed(ctx context.Context, now time.Time) error {
	elapsed, err := s.appts.FindElapsedBooked(ctx, now)
	if err != nil {
		return fmt.Errorf("find elapsed booked appointments: %w", err)
	}

	for _, appt := range elapsed {
		_, err := s.appts.UpdateAppointmentStatus(ctx, appt.ID, StatusBooked, StatusCompleted)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			log.Printf("failed to complete appointment %s: %v", appt.ID, err)
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
			"reason": "worker",
		})
	}

	return nil
}

func (s *Service) lookupDuplicate(ctx context.Context, requestID string) *BookingResult {
	if requestID == "" || s.idem == nil {
		return nil
	}

	id, ok, err := s.idem.Lookup(ctx, requestID)
	if err != nil {
		log.Printf("idempotency lookup failed for request %q: %v", requestID, err)
		return nil
	}
	if !ok {
		return nil
	}

	appt, err := s.appts.GetAppointmentByID(ctx, id)
	if err != nil {
		log.Printf("idempotency entry %q points at missing appointment %s: %v", requestID, id, err)
		return nil
	}

	opt, err := s.policy.Option(appt.Type)
	if err != nil {
		return nil
	}

	return &BookingResult{
		AppointmentID: appt.ID,
		Duplicate:     true,
		PaymentMethod: appt.PaymentMethod,
		PaymentStatus: appt.PaymentStatus,
		AmountCents:   appt.AmountCents,
		TransactionID: appt.TransactionID,
		Instructions:  paymentInstructions(appt.PaymentMethod, opt, appt.PaymentStatus),
	}
}

func (s *Service) recordRequestID(ctx context.Context, requestID string, appointmentID uuid.UUID) {
	if requestID == "" || s.idem == nil {
		return
	}
	if err := s.idem.Record(ctx, requestID, appointmentID); err != nil {
		log.Printf("failed to record booking request id %q: %v", requestID, err)
	}
}

// refundCharge reverses a completed prepayment after a failed reservation.
// Runs detached from the request context so a caller timeout cannot strand
// the charge.
func (s *Service) refundCharge(ctx context.Context, status PaymentStatus, txID *string, amountCents int64) {
	if status != PaymentCompleted || txID == nil {
		return
	}

	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	res, err := s.processor.Refund(refundCtx, *txID, amountCents)
	if err != nil {
		log.Printf("compensating refund failed for transaction %s: %v", *txID, err)
		return
	}
	if !res.Success {
		log.Printf("compensating refund declined for transaction %s: %s", *txID, res.Message)
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.appts.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func deferredStatus(method PaymentMethod) PaymentStatus {
	if method == MethodInsurance {
		return PaymentWaived
	}
	return PaymentPending
}

func paymentInstructions(method PaymentMethod, opt PaymentOption, status PaymentStatus) string {
	switch method {
	case MethodOnline:
		if status == PaymentCompleted {
			return fmt.Sprintf("Payment of $%.2f received. You are all set.", float64(opt.PriceCents)/100)
		}
		return fmt.Sprintf("Pay $%.2f online before your visit.", float64(opt.PriceCents)/100)
	case MethodPhysical:
		return fmt.Sprintf("Pay $%.2f at the clinic reception.", float64(opt.PriceCents)/100)
	case MethodInsurance:
		return "The visit will be billed to your insurance. Bring your insurance card."
	case MethodPending:
		return "Payment is deferred. The clinic will collect payment at service time."
	default:
		return opt.Notes
	}
}
