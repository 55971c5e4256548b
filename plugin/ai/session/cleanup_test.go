package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJob_StartStop(t *testing.T) {
	job := NewCleanupJob(SweepFunc(func() int { return 0 }), 10*time.Millisecond)

	require.NoError(t, job.Start(context.Background()))
	assert.True(t, job.IsRunning())

	// Starting twice is a no-op.
	require.NoError(t, job.Start(context.Background()))

	job.Stop()
	assert.False(t, job.IsRunning())

	// Stopping twice is a no-op.
	job.Stop()
}

func TestCleanupJob_DefaultInterval(t *testing.T) {
	job := NewCleanupJob(SweepFunc(func() int { return 0 }), 0)
	assert.Equal(t, DefaultCleanupInterval, job.interval)
}

func TestCleanupJob_SweepsPeriodically(t *testing.T) {
	var sweeps atomic.Int32
	job := NewCleanupJob(SweepFunc(func() int {
		sweeps.Add(1)
		return 1
	}), 5*time.Millisecond)

	require.NoError(t, job.Start(context.Background()))
	require.Eventually(t, func() bool { return sweeps.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	job.Stop()

	stopped := sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sweeps.Load(), "no sweep may run after Stop returns")
}

func TestCleanupJob_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sweeps atomic.Int32
	job := NewCleanupJob(SweepFunc(func() int {
		sweeps.Add(1)
		return 0
	}), 5*time.Millisecond)

	require.NoError(t, job.Start(ctx))
	cancel()
	job.Stop()

	stopped := sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, sweeps.Load())
}

func TestCleanupJob_RunOnce(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(StoreConfig{SessionTimeout: time.Minute}, WithClock(clock.Now))
	defer store.Close()

	_, err := store.CreateSession(CreateParams{ID: "old"})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = store.CreateSession(CreateParams{ID: "new"})
	require.NoError(t, err)

	job := NewCleanupJob(store, time.Hour)
	assert.Equal(t, 1, job.RunOnce())
	assert.Equal(t, 0, job.RunOnce())

	_, ok := store.GetSession("new")
	assert.True(t, ok)
}
