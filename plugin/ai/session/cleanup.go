package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is the default interval between cleanup sweeps.
const DefaultCleanupInterval = 5 * time.Minute

// Sweeper removes expired sessions and returns how many it removed.
type Sweeper interface {
	CleanupExpiredSessions() int
}

// SweepFunc adapts a function to the Sweeper interface.
type SweepFunc func() int

// CleanupExpiredSessions implements Sweeper.
func (f SweepFunc) CleanupExpiredSessions() int { return f() }

// CleanupJob runs a Sweeper periodically in the background.
type CleanupJob struct {
	sweeper  Sweeper
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCleanupJob creates a cleanup job. A non-positive interval uses DefaultCleanupInterval.
func NewCleanupJob(sweeper Sweeper, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		sweeper:  sweeper,
		interval: interval,
	}
}

// Start begins periodic sweeps. It is non-blocking and a no-op when already running.
func (j *CleanupJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.run(runCtx, j.done)

	slog.Info("session cleanup job started", slog.Duration("interval", j.interval))
	return nil
}

// Stop cancels the job and waits for an in-flight sweep to finish.
// No sweep runs after Stop returns.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	cancel, done := j.cancel, j.done
	j.running = false
	j.mu.Unlock()

	cancel()
	<-done

	slog.Info("session cleanup job stopped")
}

// RunOnce executes a single sweep immediately.
func (j *CleanupJob) RunOnce() int {
	return j.sweeper.CleanupExpiredSessions()
}

// IsRunning returns whether the job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	logger := slog.Default().With(slog.String("component", "session.cleanup"))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			if removed := j.sweeper.CleanupExpiredSessions(); removed > 0 {
				logger.InfoContext(ctx, "cleaned up expired sessions",
					slog.Int("removed", removed),
					slog.Duration("duration", time.Since(start)),
				)
			}
		}
	}
}
