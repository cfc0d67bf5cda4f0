package federation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeliverSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	a := NewAdapter("test", func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, BackoffConfig{Base: time.Millisecond, MaxAttempts: 3}, 10, nil)

	err := a.Deliver(context.Background(), Message{Target: "peer", Payload: []byte("hi")})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls)
	require.Empty(t, a.Undelivered())
}

func TestDeliverRetriesThenBuffersOnExhaustion(t *testing.T) {
	var calls int32
	a := NewAdapter("test", func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("peer unreachable")
	}, BackoffConfig{Base: time.Millisecond, MaxAttempts: 2, JitterPct: 5}, 10, nil)

	err := a.Deliver(context.Background(), Message{Target: "peer", Payload: []byte("hi")})
	require.Error(t, err)
	require.GreaterOrEqual(t, calls, int32(2))

	undelivered := a.Undelivered()
	require.Len(t, undelivered, 1)
	require.Equal(t, "peer", undelivered[0].Target)
}

func TestUndeliveredBufferEvictsOldestAtCapacity(t *testing.T) {
	a := NewAdapter("test", func(ctx context.Context, msg Message) error {
		return errors.New("always fails")
	}, BackoffConfig{Base: time.Millisecond, MaxAttempts: 0}, 2, nil)

	_ = a.Deliver(context.Background(), Message{Target: "a"})
	_ = a.Deliver(context.Background(), Message{Target: "b"})
	_ = a.Deliver(context.Background(), Message{Target: "c"})

	undelivered := a.Undelivered()
	require.Len(t, undelivered, 2)
	require.Equal(t, "b", undelivered[0].Target)
	require.Equal(t, "c", undelivered[1].Target)
}

func TestDrainUndeliveredEmptiesBuffer(t *testing.T) {
	a := NewAdapter("test", func(ctx context.Context, msg Message) error {
		return errors.New("fail")
	}, BackoffConfig{Base: time.Millisecond, MaxAttempts: 0}, 5, nil)

	_ = a.Deliver(context.Background(), Message{Target: "a"})
	drained := a.DrainUndelivered()
	require.Len(t, drained, 1)
	require.Empty(t, a.Undelivered())
}
