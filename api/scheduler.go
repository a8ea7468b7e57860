/*
scheduler.go - Background status reconciliation scheduler

PURPOSE:
  Periodically pulls the fleet monitor's status map and applies it to
  the local distributor rows, so operational status converges even
  when nobody calls the manual sync endpoint.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Each pass is one Reconciler.Pull: fetch, parse, apply in one
    transaction
  - A pass that hears nothing from the monitor is logged and skipped;
    local state is never touched on silence

CONFIGURATION:
  - Interval: How often to pull (default: 30 seconds)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewReconcileScheduler(handler.Reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncMonitor endpoint (manual reconciliation)
  - vending/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/brewnet/vendcore/metrics"
	"github.com/brewnet/vendcore/vending"
)

// ReconcileScheduler drives periodic monitor reconciliation.
type ReconcileScheduler struct {
	Reconciler *vending.Reconciler
	Interval   time.Duration
	Enabled    bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconcileScheduler creates a scheduler with defaults.
func NewReconcileScheduler(reconciler *vending.Reconciler) *ReconcileScheduler {
	return &ReconcileScheduler{
		Reconciler: reconciler,
		Interval:   30 * time.Second,
		Enabled:    true,
		stop:       make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *ReconcileScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Reconcile] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Reconcile] Started with interval: %v", rs.Interval)
}

// Stop stops the scheduler.
func (rs *ReconcileScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Reconcile] Stopped")
	}
}

func (rs *ReconcileScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.pull()

	for {
		select {
		case <-rs.ticker.C:
			rs.pull()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconcileScheduler) pull() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := rs.Reconciler.Pull(ctx)
	if err != nil {
		log.Printf("[Reconcile] Pull failed: %v", err)
		return
	}
	if summary.Empty() {
		log.Println("[Reconcile] Monitor silent, nothing applied")
		return
	}

	metrics.ReconcileEntries.WithLabelValues("updated").Add(float64(summary.Updated))
	metrics.ReconcileEntries.WithLabelValues("missing").Add(float64(summary.Missing))
	metrics.ReconcileEntries.WithLabelValues("invalid").Add(float64(summary.Invalid))
	unchanged := summary.Received - summary.Updated - summary.Missing - summary.Invalid
	if unchanged > 0 {
		metrics.ReconcileEntries.WithLabelValues("unchanged").Add(float64(unchanged))
	}

	log.Printf("[Reconcile] Completed: %d received, %d updated, %d missing, %d invalid",
		summary.Received, summary.Updated, summary.Missing, summary.Invalid)
}
