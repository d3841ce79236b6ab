package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BookingIdempotencyStore remembers which appointment a client-supplied
// booking request id resolved to, so gateway-failure retries do not
// double-book or double-charge.
type BookingIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBookingIdempotencyStore(client *redis.Client, ttl time.Duration) *BookingIdempotencyStore {
	return &BookingIdempotencyStore{
		client: client,
		ttl:    ttl,
	}
}

func idempotencyKey(requestID string) string {
	return fmt.Sprintf("idem:booking:%s", requestID)
}

// Lookup returns the appointment id previously recorded for requestID, if any.
func (s *BookingIdempotencyStore) Lookup(ctx context.Context, requestID string) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, idempotencyKey(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup booking request id: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt idempotency entry for %q: %w", requestID, err)
	}
	return id, true, nil
}

// Record stores requestID -> appointmentID. The first writer wins; a
// concurrent duplicate simply keeps the earlier appointment id.
func (s *BookingIdempotencyStore) Record(ctx context.Context, requestID string, appointmentID uuid.UUID) error {
	if err := s.client.SetNX(ctx, idempotencyKey(requestID), appointmentID.String(), s.ttl).Err(); err != nil {
		return fmt.Errorf("record booking request id: %w", err)
	}
	return nil
}
