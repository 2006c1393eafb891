/*
scheduler.go - Automated re-confirmation scheduler

PURPOSE:
  Periodically purges leave entries whose date has passed and re-announces
  bookings that still fall on an active leave day, so downstream consumers
  keep prompting for re-confirmation until someone acts.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Purges expired leaves first, then sweeps the remaining ones
  - Never cancels or edits bookings; it only publishes events

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconfirmationScheduler(eng, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - engine/leave.go: PurgeExpiredLeaves, SweepReconfirmations
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/lab-booking/engine"
)

// SweepResult summarizes one scheduler pass.
type SweepResult struct {
	Purged  int
	Flagged int
	RanAt   time.Time
}

// ReconfirmationScheduler handles automated leave housekeeping.
type ReconfirmationScheduler struct {
	Engine        *engine.Engine
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun SweepResult
}

// NewReconfirmationScheduler creates a new scheduler.
func NewReconfirmationScheduler(eng *engine.Engine, logger *slog.Logger) *ReconfirmationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconfirmationScheduler{
		Engine:        eng,
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconfirmationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.Logger.Info("scheduler started", "interval", rs.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *ReconfirmationScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker = nil
	rs.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	rs.wg.Wait()
	rs.Logger.Info("scheduler stopped")
}

func (rs *ReconfirmationScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(context.Background())

	for {
		select {
		case <-tick:
			rs.checkAndProcess(context.Background())
		case <-stop:
			return
		}
	}
}

func (rs *ReconfirmationScheduler) checkAndProcess(ctx context.Context) SweepResult {
	result := SweepResult{RanAt: rs.Engine.Now()}

	purged, err := rs.Engine.PurgeExpiredLeaves(ctx)
	if err != nil {
		rs.Logger.Error("failed to purge expired leaves", "error", err)
	}
	result.Purged = purged

	flagged, err := rs.Engine.SweepReconfirmations(ctx)
	if err != nil {
		rs.Logger.Error("failed to sweep reconfirmations", "error", err)
	}
	result.Flagged = flagged

	if purged > 0 || flagged > 0 {
		rs.Logger.Info("scheduler pass completed", "purged_leaves", purged, "flagged_bookings", flagged)
	}

	rs.mu.Lock()
	rs.lastRun = result
	rs.mu.Unlock()
	return result
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *ReconfirmationScheduler) RunNow(ctx context.Context) SweepResult {
	return rs.checkAndProcess(ctx)
}

// LastRun returns the result of the most recent pass.
func (rs *ReconfirmationScheduler) LastRun() SweepResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconfirmationScheduler) GetNextRunTime() time.Time {
	return rs.Engine.Now().Add(rs.CheckInterval)
}
