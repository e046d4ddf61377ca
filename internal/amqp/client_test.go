package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		maxBackoff, maxBackoff,
	}
	for attempt, w := range want {
		assert.Equal(t, w, exponentialBackoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, maxBackoff, exponentialBackoff(64), "large attempts must not overflow")
}

func TestIsConnectionError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{amqp091.ErrClosed, true},
		{fmt.Errorf("publish: %w", amqp091.ErrClosed), true},
		{errors.New("read tcp: EOF"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("Exception (504) Reason: \"channel/connection is not open\""), true},
		{errors.New("PRECONDITION_FAILED - inequivalent arg 'durable'"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isConnectionError(tc.err), "%v", tc.err)
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	c := &Client{}

	for i := 0; i < maxFailures-1; i++ {
		c.recordFailure()
	}
	assert.False(t, c.isCircuitOpen(), "below the failure threshold")

	c.recordFailure()
	assert.True(t, c.isCircuitOpen())

	// After the open timeout one trial call is let through.
	c.mu.Lock()
	c.lastFailure = time.Now().Add(-openTimeout - time.Second)
	c.mu.Unlock()
	assert.False(t, c.isCircuitOpen())
	assert.Equal(t, StateHalfOpen, atomic.LoadInt32(&c.state))

	// A failed trial call reopens immediately.
	c.recordFailure()
	assert.Equal(t, StateOpen, atomic.LoadInt32(&c.state))

	c.recordSuccess()
	assert.Equal(t, StateClosed, atomic.LoadInt32(&c.state))
	assert.Zero(t, atomic.LoadInt64(&c.failureCount))
}

func TestPublishRecordSavedShortCircuits(t *testing.T) {
	t.Run("open circuit", func(t *testing.T) {
		c := &Client{}
		atomic.StoreInt32(&c.state, StateOpen)
		c.lastFailure = time.Now()

		err := c.PublishRecordSaved(context.Background(), "user-1", 2026)
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Contains(t, err.Error(), "user-1/2026")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, (&Client{}).PublishRecordSaved(ctx, "user-1", 2026), context.Canceled)
	})

	t.Run("dial failures open the circuit", func(t *testing.T) {
		c := &Client{url: "amqp://invalid host/", exchangeName: "finvue", queueName: "record_saved"}
		for i := 0; i < maxFailures; i++ {
			require.Error(t, c.PublishRecordSaved(context.Background(), "user-1", 2026))
		}
		assert.Equal(t, StateOpen, atomic.LoadInt32(&c.state))
	})
}

func TestDecodeRecordSaved(t *testing.T) {
	msg := NewRecordSavedMessage("user-1", 2026)
	assert.Equal(t, "user-1/2026", msg.Key())

	got, err := decodeRecordSaved([]byte(`{"user_id":"user-1","year":2026,"timestamp":"2026-03-15T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 2026, got.Year)
	assert.Equal(t, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC), got.Timestamp)

	for _, body := range []string{
		`{"user_id": 1, "year": "x"}`,
		`{"year": 2026}`,
		`{"user_id": "user-1", "year": 0}`,
		`not json`,
	} {
		_, err := decodeRecordSaved([]byte(body))
		assert.ErrorIs(t, err, errInvalidMessage, body)
	}
}
