package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(DefaultConfig(), zaptest.NewLogger(t))
	t.Cleanup(s.Stop)
	return s
}

func TestDeferAndWait(t *testing.T) {
	s := newTestScheduler(t)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Defer("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	s.Wait()
	assert.Equal(t, int32(10), n.Load())
}

func TestDeferSurvivesPanicAndError(t *testing.T) {
	s := newTestScheduler(t)

	require.NoError(t, s.Defer("boom", func(context.Context) error { panic("boom") }))
	require.NoError(t, s.Defer("fail", func(context.Context) error { return errors.New("nope") }))
	s.Wait()
}

func TestDeferAfterStop(t *testing.T) {
	s := New(DefaultConfig(), zaptest.NewLogger(t))
	s.Stop()
	err := s.Defer("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	s.Stop()
}

func TestPeriodicJobRunsUntilStop(t *testing.T) {
	s := New(DefaultConfig(), zaptest.NewLogger(t))

	var n atomic.Int32
	s.Every("tick", 5*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	})
	s.Start()

	assert.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := n.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, n.Load())
}

func TestStopCancelsRunningTask(t *testing.T) {
	s := New(DefaultConfig(), zaptest.NewLogger(t))

	started := make(chan struct{})
	require.NoError(t, s.Defer("block", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not cancel the running task")
	}
}

func TestRunNowJoinsErrors(t *testing.T) {
	s := newTestScheduler(t)

	var ran atomic.Int32
	s.Every("ok", time.Hour, func(context.Context) error { ran.Add(1); return nil })
	s.Every("bad", time.Hour, func(context.Context) error { ran.Add(1); return errors.New("bad") })
	s.Every("disabled", 0, func(context.Context) error { ran.Add(1); return nil })

	err := s.RunNow(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(2), ran.Load())
}
