package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New("every day at noon", func(context.Context) error { return nil }, false, nil)
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)

	_, err = New("0 0 * * *", nil, false, nil)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestNextFollowsDailySchedule(t *testing.T) {
	s, err := New("0 0 * * *", func(context.Context) error { return nil }, false, nil)
	require.NoError(t, err)

	from := time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), s.Next(from))
}

func TestRunExecutesInitialJobAndStops(t *testing.T) {
	var calls atomic.Int32
	ran := make(chan struct{}, 1)
	s, err := New("0 0 1 1 *", func(context.Context) error {
		calls.Add(1)
		ran <- struct{}{}
		return errors.New("upstream down")
	}, true, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("initial job did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a failing job does not stop the scheduler")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunWithoutInitialJob(t *testing.T) {
	var calls atomic.Int32
	s, err := New("0 0 1 1 *", func(context.Context) error {
		calls.Add(1)
		return nil
	}, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, calls.Load())
}

func TestScheduledTicksRunTheJob(t *testing.T) {
	ran := make(chan struct{}, 4)
	s, err := New("@every 1s", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job did not run")
	}
}
