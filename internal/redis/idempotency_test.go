package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyLookupMiss(t *testing.T) {
	store := NewBookingIdempotencyStore(newTestClient(t), time.Hour)

	_, found, err := store.Lookup(context.Background(), "unseen-request")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIdempotencyRecordAndLookup(t *testing.T) {
	store := NewBookingIdempotencyStore(newTestClient(t), time.Hour)
	apptID := uuid.New()

	require.NoError(t, store.Record(context.Background(), "req-1", apptID))

	got, found, err := store.Lookup(context.Background(), "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, apptID, got)
}

func TestIdempotencyFirstWriterWins(t *testing.T) {
	store := NewBookingIdempotencyStore(newTestClient(t), time.Hour)
	first := uuid.New()
	second := uuid.New()

	require.NoError(t, store.Record(context.Background(), "req-1", first))
	require.NoError(t, store.Record(context.Background(), "req-1", second))

	got, found, err := store.Lookup(context.Background(), "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first, got, "a duplicate record keeps the earlier appointment id")
}
