package booking_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/appointment-booking/internal/booking"
	"github.com/medibook/appointment-booking/internal/payment"
	redisclient "github.com/medibook/appointment-booking/internal/redis"
)

type fixture struct {
	store  *booking.MemoryStore
	gw     *payment.FakeGateway
	idem   *booking.MemoryIdempotencyStore
	locker redisclient.Locker
	svc    *booking.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		store:  booking.NewMemoryStore(),
		gw:     payment.NewFakeGateway(),
		idem:   booking.NewMemoryIdempotencyStore(),
		locker: redisclient.NewRedisSlotLocker(client, 2*time.Second),
	}
	f.svc = booking.NewService(
		f.store,
		f.store,
		payment.NewProcessor(f.gw),
		booking.NewPolicy(24*time.Hour),
		f.locker,
		f.idem,
	)
	return f
}

func (f *fixture) addOpenSlot(t *testing.T) booking.Slot {
	t.Helper()
	slot := booking.Slot{
		ID:        uuid.New(),
		ClinicID:  uuid.New(),
		StartTime: time.Now().Add(72 * time.Hour),
	}
	f.store.AddSlot(slot)
	return slot
}

func bookReq(slotID uuid.UUID, apptType booking.AppointmentType, method booking.PaymentMethod) booking.BookingRequest {
	return booking.BookingRequest{
		UserID: uuid.New(),
		SlotID: slotID,
		Type:   apptType,
		Title:  "Checkup",
		Method: method,
	}
}

func TestBookConsultationPhysical(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)

	assert.Equal(t, booking.MethodPhysical, result.PaymentMethod)
	assert.Equal(t, booking.PaymentPending, result.PaymentStatus)
	assert.Equal(t, int64(3000), result.AmountCents)
	assert.Nil(t, result.TransactionID)
	assert.NotEmpty(t, result.Instructions)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.True(t, got.IsBooked)

	appt, err := f.store.GetAppointmentByID(context.Background(), result.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusBooked, appt.Status)
	assert.Equal(t, slot.StartTime, appt.Time)
}

func TestBookSlotAlreadyBooked(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
	assert.ErrorIs(t, err, booking.ErrSlotAlreadyBooked)
}

func TestBookSlotNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), bookReq(uuid.New(), booking.TypeConsultation, booking.MethodPhysical))
	assert.ErrorIs(t, err, booking.ErrSlotNotFound)
}

func TestBookInvalidPaymentMethodMutatesNothing(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	// PHYSICAL is not allowed for LAB_TEST.
	_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodPhysical))
	assert.ErrorIs(t, err, booking.ErrInvalidPaymentMethod)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked, "failed validation must not reserve the slot")
}

func TestBookUnknownAppointmentType(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.AppointmentType("MASSAGE"), booking.MethodOnline))
	assert.ErrorIs(t, err, booking.ErrUnknownAppointmentType)
}

func TestBookLabTestOnlinePrepayment(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	require.NoError(t, err)

	assert.Equal(t, booking.PaymentCompleted, result.PaymentStatus)
	assert.Equal(t, int64(5000), result.AmountCents)
	require.NotNil(t, result.TransactionID)

	charged, ok := f.gw.ChargedCents(*result.TransactionID)
	require.True(t, ok)
	assert.Equal(t, int64(5000), charged)
}

func TestBookGatewayDeclineLeavesSlotFree(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)
	f.gw.DeclineReason = "card blocked"

	_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	assert.ErrorIs(t, err, booking.ErrPaymentDeclined)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)
}

func TestBookGatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)
	f.gw.Unavailable = true

	_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	assert.ErrorIs(t, err, booking.ErrPaymentUnavailable)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)
}

func TestBookPrepaidLostRaceIsRefunded(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	// A competing booker takes the slot between this booker's early check
	// and its reserve. staleSlotRepo replays the stale free read; the
	// CAS then fails and the prepaid charge must be reversed.
	require.NoError(t, f.store.Reserve(context.Background(), slot.ID))

	svc := booking.NewService(
		&staleSlotRepo{SlotRepository: f.store},
		f.store,
		payment.NewProcessor(f.gw),
		booking.NewPolicy(24*time.Hour),
		f.locker,
		nil,
	)

	_, err := svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	assert.ErrorIs(t, err, booking.ErrSlotAlreadyBooked)

	assert.Equal(t, int64(5000), f.gw.TotalChargedCents(), "charge was taken before the race was lost")
	assert.Equal(t, f.gw.TotalChargedCents(), f.gw.TotalRefundedCents(), "lost-race charge must be fully refunded")
}

func TestBookPersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	failing := &failingAppointments{AppointmentRepository: f.store}
	svc := booking.NewService(
		f.store,
		failing,
		payment.NewProcessor(f.gw),
		booking.NewPolicy(24*time.Hour),
		f.locker,
		nil,
	)

	_, err := svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	assert.ErrorIs(t, err, booking.ErrPersistenceFailed)

	// Slot released again and the charge reversed: no orphan charge.
	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)

	txs := failing.seenTransactions()
	require.Len(t, txs, 1, "the charge happened before the failed insert")
	assert.Equal(t, int64(5000), f.gw.RefundedCents(txs[0]), "charge must be refunded after rollback")
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	const attempts = 20
	var wins, losses int64
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case errors.Is(err, booking.ErrSlotAlreadyBooked), errors.Is(err, booking.ErrSlotBusy):
				atomic.AddInt64(&losses, 1)
			default:
				t.Errorf("unexpected booking error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins, "exactly one booking may win")
	assert.Equal(t, int64(attempts-1), losses)
}

func TestBookIdempotentRetry(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	req := bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline)
	req.RequestID = "req-123"

	first, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	// Retry with the same request id: same appointment, no second charge.
	second, err := f.svc.Book(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
	require.NotNil(t, second.TransactionID)
	assert.Equal(t, *first.TransactionID, *second.TransactionID)
}

func TestCancelBookedWithFullRefund(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t) // 72h out, well before the 24h cutoff

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	require.NoError(t, err)

	cancel, err := f.svc.Cancel(context.Background(), result.AppointmentID)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), cancel.RefundAmountCents)
	assert.Equal(t, booking.PaymentRefunded, cancel.RefundStatus)
	assert.Empty(t, cancel.RefundError)
	assert.Equal(t, int64(5000), f.gw.RefundedCents(*result.TransactionID))

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked, "cancellation must release the slot")

	appt, err := f.store.GetAppointmentByID(context.Background(), result.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, appt.Status)
	assert.Equal(t, booking.PaymentRefunded, appt.PaymentStatus)
}

func TestCancelPartialRefundInsideCutoff(t *testing.T) {
	f := newFixture(t)
	slot := booking.Slot{
		ID:        uuid.New(),
		ClinicID:  uuid.New(),
		StartTime: time.Now().Add(2 * time.Hour),
	}
	f.store.AddSlot(slot)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	require.NoError(t, err)

	cancel, err := f.svc.Cancel(context.Background(), result.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), cancel.RefundAmountCents)
	assert.Equal(t, booking.PaymentRefunded, cancel.RefundStatus)
}

func TestCancelIdempotent(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), result.AppointmentID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), result.AppointmentID)
	assert.ErrorIs(t, err, booking.ErrAlreadyCancelled)

	// State unchanged: appointment stays cancelled, slot stays free.
	appt, err := f.store.GetAppointmentByID(context.Background(), result.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, appt.Status)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked)
}

func TestCancelNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, booking.ErrAppointmentNotFound)
}

func TestCancelRefundFailureDoesNotRebook(t *testing.T) {
	f := newFixture(t)
	slot := f.addOpenSlot(t)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeLabTest, booking.MethodOnline))
	require.NoError(t, err)

	f.gw.Unavailable = true

	cancel, err := f.svc.Cancel(context.Background(), result.AppointmentID)
	require.NoError(t, err, "refund failure is reported, not raised")
	assert.Equal(t, booking.PaymentFailed, cancel.RefundStatus)
	assert.NotEmpty(t, cancel.RefundError)

	got, err := f.store.GetSlotByID(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.False(t, got.IsBooked, "slot release is not reversed on refund failure")
}

func TestCancelCompletedAppointment(t *testing.T) {
	f := newFixture(t)
	slot := booking.Slot{
		ID:        uuid.New(),
		ClinicID:  uuid.New(),
		StartTime: time.Now().Add(-time.Hour),
	}
	f.store.AddSlot(slot)

	result, err := f.svc.Book(context.Background(), bookReq(slot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)

	require.NoError(t, f.svc.CompleteElapsed(context.Background(), time.Now()))

	_, err = f.svc.Cancel(context.Background(), result.AppointmentID)
	assert.ErrorIs(t, err, booking.ErrAlreadyCompleted)
}

func TestCompleteElapsed(t *testing.T) {
	f := newFixture(t)

	pastSlot := booking.Slot{ID: uuid.New(), ClinicID: uuid.New(), StartTime: time.Now().Add(-time.Hour)}
	futureSlot := booking.Slot{ID: uuid.New(), ClinicID: uuid.New(), StartTime: time.Now().Add(time.Hour)}
	f.store.AddSlot(pastSlot)
	f.store.AddSlot(futureSlot)

	past, err := f.svc.Book(context.Background(), bookReq(pastSlot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)
	future, err := f.svc.Book(context.Background(), bookReq(futureSlot.ID, booking.TypeConsultation, booking.MethodPhysical))
	require.NoError(t, err)

	require.NoError(t, f.svc.CompleteElapsed(context.Background(), time.Now()))

	pastAppt, err := f.store.GetAppointmentByID(context.Background(), past.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, pastAppt.Status)

	futureAppt, err := f.store.GetAppointmentByID(context.Background(), future.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusBooked, futureAppt.Status)
}

func TestPaymentOptions(t *testing.T) {
	f := newFixture(t)

	opt, err := f.svc.PaymentOptions(booking.TypeLabTest)
	require.NoError(t, err)
	assert.True(t, opt.RequiresPrePayment)
	assert.Equal(t, int64(5000), opt.PriceCents)
	assert.ElementsMatch(t, []booking.PaymentMethod{booking.MethodOnline, booking.MethodInsurance}, opt.Methods)

	_, err = f.svc.PaymentOptions(booking.AppointmentType("MASSAGE"))
	assert.ErrorIs(t, err, booking.ErrUnknownAppointmentType)
}

// staleSlotRepo reports every slot as free on reads, mimicking a reader
// that raced a concurrent reservation. Reserve still goes to the real
// store.
type staleSlotRepo struct {
	booking.SlotRepository
}

func (s *staleSlotRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*booking.Slot, error) {
	slot, err := s.SlotRepository.GetSlotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	slot.IsBooked = false
	return slot, nil
}

// failingAppointments rejects every insert while remembering the
// transaction ids it saw, so tests can assert the compensating refund.
type failingAppointments struct {
	booking.AppointmentRepository

	mu  sync.Mutex
	txs []string
}

func (f *failingAppointments) InsertAppointment(ctx context.Context, appt *booking.Appointment) error {
	f.mu.Lock()
	if appt.TransactionID != nil {
		f.txs = append(f.txs, *appt.TransactionID)
	}
	f.mu.Unlock()
	return errors.New("storage write failed")
}

func (f *failingAppointments) seenTransactions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.txs...)
}
