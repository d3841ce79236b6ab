package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/appointment-booking/internal/booking"
)

func bookHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_user_id", "user_id must be a valid UUID")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		result, err := svc.Book(r.Context(), booking.BookingRequest{
			RequestID:        req.RequestID,
			UserID:           userID,
			SlotID:           slotID,
			Type:             booking.AppointmentType(req.Type),
			Title:            req.Title,
			Method:           booking.PaymentMethod(req.PaymentMethod),
			Notes:            req.Notes,
			RemindersEnabled: req.RemindersEnabled,
		})
		if err != nil {
			handleBookError(w, err)
			return
		}

		resp := BookResponse{
			AppointmentID: result.AppointmentID,
			Duplicate:     result.Duplicate,
			PaymentMethod: string(result.PaymentMethod),
			PaymentStatus: string(result.PaymentStatus),
			AmountCents:   result.AmountCents,
			TransactionID: result.TransactionID,
			Instructions:  result.Instructions,
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

func cancelHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "id")
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		result, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleCancelError(w, err)
			return
		}

		resp := CancelResponse{
			AppointmentID:     result.AppointmentID,
			RefundAmountCents: result.RefundAmountCents,
			RefundStatus:      string(result.RefundStatus),
			RefundError:       result.RefundError,
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "id")
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrAppointmentNotFound) {
				writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := AppointmentResponse{
			ID:            appt.ID,
			UserID:        appt.UserID,
			SlotID:        appt.SlotID,
			ClinicID:      appt.ClinicID,
			Type:          string(appt.Type),
			Title:         appt.Title,
			Time:          appt.Time,
			Status:        string(appt.Status),
			PaymentMethod: string(appt.PaymentMethod),
			PaymentStatus: string(appt.PaymentStatus),
			AmountCents:   appt.AmountCents,
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func paymentOptionsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptType := booking.AppointmentType(chi.URLParam(r, "type"))

		opt, err := svc.PaymentOptions(apptType)
		if err != nil {
			if errors.Is(err, booking.ErrUnknownAppointmentType) {
				writeError(w, http.StatusBadRequest, "unknown_appointment_type", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		methods := make([]string, 0, len(opt.Methods))
		for _, m := range opt.Methods {
			methods = append(methods, string(m))
		}

		resp := PaymentOptionResponse{
			Type:               string(opt.Type),
			Methods:            methods,
			RequiresPrePayment: opt.RequiresPrePayment,
			PriceCents:         opt.PriceCents,
			Notes:              opt.Notes,
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func handleBookError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrUnknownAppointmentType):
		writeError(w, http.StatusBadRequest, "unknown_appointment_type", err.Error())
	case errors.Is(err, booking.ErrInvalidPaymentMethod):
		writeError(w, http.StatusBadRequest, "invalid_payment_method", err.Error())
	case errors.Is(err, booking.ErrPaymentDeclined):
		writeError(w, http.StatusPaymentRequired, "payment_declined", err.Error())
	case errors.Is(err, booking.ErrPaymentUnavailable):
		writeError(w, http.StatusBadGateway, "payment_unavailable", err.Error())
	case errors.Is(err, booking.ErrPersistenceFailed):
		writeError(w, http.StatusInternalServerError, "persistence_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, booking.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, booking.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is busy, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
