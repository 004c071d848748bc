package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/models"
)

func TestRunOnceUpdatesCounters(t *testing.T) {
	sup := NewSupervisor(Config{
		Name:        "test",
		CounterName: "handled",
		Interval:    time.Hour,
		Cycle:       func(ctx context.Context) (int, error) { return 3, nil },
	}, logger.Default())

	count, err := sup.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	status := sup.Status()
	assert.Equal(t, false, status["running"])
	assert.Equal(t, 1, status["cycles"])
	assert.Equal(t, 3, status["handled"])
	assert.NotNil(t, status["last_cycle_at"])
	assert.Nil(t, status["last_error"])
}

func TestRunOnceRecordsError(t *testing.T) {
	sup := NewSupervisor(Config{
		Name:        "test",
		CounterName: "handled",
		Interval:    time.Hour,
		Cycle:       func(ctx context.Context) (int, error) { return 0, errors.New("boom") },
	}, logger.Default())

	_, err := sup.RunOnce(context.Background())
	require.Error(t, err)

	status := sup.Status()
	assert.Equal(t, "boom", status["last_error"])
	assert.Equal(t, 0, status["handled"])
}

func TestStartStopLifecycle(t *testing.T) {
	var cycles atomic.Int32
	sup := NewSupervisor(Config{
		Name:        "test",
		CounterName: "handled",
		Interval:    5 * time.Millisecond,
		Cycle: func(ctx context.Context) (int, error) {
			cycles.Add(1)
			return 1, nil
		},
	}, logger.Default())

	status := sup.Start()
	assert.Equal(t, true, status["running"])

	// Start is idempotent.
	sup.Start()

	require.Eventually(t, func() bool { return cycles.Load() >= 2 }, time.Second, time.Millisecond)

	status = sup.Stop()
	assert.Equal(t, false, status["running"])

	settled := cycles.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, cycles.Load())
}

func TestWakeTriggersEarlyCycle(t *testing.T) {
	wake := make(chan *models.Event, 1)
	var cycles atomic.Int32
	sup := NewSupervisor(Config{
		Name:        "test",
		CounterName: "handled",
		Interval:    time.Hour,
		Cycle: func(ctx context.Context) (int, error) {
			cycles.Add(1)
			return 0, nil
		},
		Wake: func() (<-chan *models.Event, func()) { return wake, func() {} },
	}, logger.Default())

	sup.Start()
	defer sup.Stop()

	require.Eventually(t, func() bool { return cycles.Load() == 1 }, time.Second, time.Millisecond)

	wake <- &models.Event{ID: "e1"}
	require.Eventually(t, func() bool { return cycles.Load() == 2 }, time.Second, time.Millisecond)
}
