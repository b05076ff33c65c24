/*
scheduler.go - Periodic recalculation scheduler

PURPOSE:
  Keeps cached country states moving with the simulated clock. Every tick
  recalculates all countries at simulated now, which also raises milestones
  and queues achievement evaluations for the owners.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start
  - Per-country failures are logged by the engine and summarised here;
    a failed country is retried on the next tick

CONFIGURATION:
  - Interval: How often to recalculate (default: 1 hour)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewRecalculationScheduler(service, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculateAll endpoint (manual trigger)
  - engine/service.go: RecalculateAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/nation-engine/engine"
)

// Recalculator is the part of the engine the scheduler drives.
type Recalculator interface {
	RecalculateAll(ctx context.Context) (engine.BatchResult, error)
}

// RecalculationScheduler periodically recalculates every country.
type RecalculationScheduler struct {
	Service  Recalculator
	Interval time.Duration
	Enabled  bool
	Log      logrus.FieldLogger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu   sync.Mutex
	lastRun time.Time
}

// NewRecalculationScheduler creates a new scheduler.
func NewRecalculationScheduler(svc Recalculator, log logrus.FieldLogger) *RecalculationScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RecalculationScheduler{
		Service:  svc,
		Interval: time.Hour,
		Enabled:  true,
		Log:      log.WithField("component", "scheduler"),
	}
}

// Start begins the scheduler. Calling it twice is a no-op.
func (rs *RecalculationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.Log.WithField("interval", rs.Interval).Info("started")
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *RecalculationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.cancel()
	rs.wg.Wait()
	rs.ticker = nil
	rs.Log.Info("stopped")
}

func (rs *RecalculationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.recalculate(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.recalculate(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecalculationScheduler) recalculate(ctx context.Context) engine.BatchResult {
	start := time.Now()
	res, err := rs.Service.RecalculateAll(ctx)
	if err != nil {
		rs.Log.WithError(err).Error("recalculation run failed")
		return res
	}

	rs.runMu.Lock()
	rs.lastRun = start
	rs.runMu.Unlock()

	log := rs.Log.WithFields(logrus.Fields{
		"recalculated": res.Recalculated,
		"milestones":   res.Milestones,
		"failed":       len(res.Failed),
		"took":         time.Since(start).Round(time.Millisecond),
	})
	if len(res.Failed) > 0 {
		log.Warn("recalculation run completed with failures")
	} else {
		log.Debug("recalculation run completed")
	}
	return res
}

// RunNow triggers an immediate run (for testing/admin).
func (rs *RecalculationScheduler) RunNow(ctx context.Context) engine.BatchResult {
	return rs.recalculate(ctx)
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RecalculationScheduler) GetNextRunTime() time.Time {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now()
	}
	return rs.lastRun.Add(rs.Interval)
}
