// Package reconciler runs the periodic subscription sweep that expires
// elapsed periods and activates queued ones.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nimbusvault/backend/internal/models"
)

var (
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_sweeps_total",
		Help: "Total number of reconciliation sweeps run",
	})
	periodsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_periods_expired_total",
		Help: "Total number of subscription periods expired by the sweep",
	})
	periodsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscription_periods_activated_total",
		Help: "Total number of queued subscription periods activated by the sweep",
	})
)

// Ledger is the subset of subscription storage the sweep needs.
type Ledger interface {
	ExpireElapsed(ctx context.Context, now time.Time) (int64, error)
	ActivationCandidates(ctx context.Context, now time.Time) ([]models.UserSubscription, error)
	ActivateIfIdle(ctx context.Context, periodID, userID int64) (bool, error)
}

// Stats holds reconciler statistics
type Stats struct {
	SweepsRun         int64
	PeriodsExpired    int64
	PeriodsActivated  int64
	CandidatesSkipped int64
	LastSweepAt       time.Time
}

// Config holds reconciler configuration
type Config struct {
	// Interval is the time between sweeps
	Interval time.Duration
	// SweepTimeout is the maximum time allowed for a single sweep
	SweepTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for an in-flight sweep during shutdown
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		SweepTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Reconciler drives the subscription ledger toward its steady state.
type Reconciler struct {
	config Config
	ledger Ledger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a new Reconciler instance
func New(config Config, ledger Ledger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = DefaultConfig().SweepTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	return &Reconciler{
		config: config,
		ledger: ledger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop. Sweeps run serially; a slow sweep delays
// the next tick rather than overlapping it.
func (r *Reconciler) Start(ctx context.Context) {
	log.Printf("[reconciler] Starting with interval %v", r.config.Interval)

	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop gracefully shuts down the reconciler
func (r *Reconciler) Stop(ctx context.Context) error {
	log.Printf("[reconciler] Initiating graceful shutdown...")

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[reconciler] Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Printf("[reconciler] Shutdown timeout exceeded, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Run an initial sweep so a restart does not wait a full interval
	// before catching up on elapsed periods.
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[reconciler] Loop shutting down (context cancelled)")
			return
		case <-r.stopCh:
			log.Printf("[reconciler] Loop shutting down (stop signal)")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, r.config.SweepTimeout)
	defer cancel()

	if err := r.RunOnce(sweepCtx, time.Now().UTC()); err != nil {
		if err != context.Canceled && err != context.DeadlineExceeded {
			log.Printf("[reconciler] Sweep error: %v", err)
		}
	}
}

// RunOnce performs a single sweep: expire elapsed periods first, then
// activate queued periods for users left without an active one. Periods
// are activated in start date order so the earliest queued change wins.
func (r *Reconciler) RunOnce(ctx context.Context, now time.Time) error {
	sweepID := uuid.NewString()
	start := time.Now()

	expired, err := r.ledger.ExpireElapsed(ctx, now)
	if err != nil {
		return fmt.Errorf("expire elapsed periods: %w", err)
	}

	candidates, err := r.ledger.ActivationCandidates(ctx, now)
	if err != nil {
		return fmt.Errorf("list activation candidates: %w", err)
	}

	var activated, skipped int64
	for _, sub := range candidates {
		ok, err := r.ledger.ActivateIfIdle(ctx, sub.ID, sub.UserID)
		if err != nil {
			log.Printf("[reconciler] Sweep %s: failed to activate period %d for user %d: %v",
				sweepID, sub.ID, sub.UserID, err)
			continue
		}
		if ok {
			activated++
			log.Printf("[reconciler] Sweep %s: activated period %d for user %d", sweepID, sub.ID, sub.UserID)
		} else {
			// Another period for this user is already active.
			skipped++
		}
	}

	sweepsTotal.Inc()
	periodsExpiredTotal.Add(float64(expired))
	periodsActivatedTotal.Add(float64(activated))

	r.statsMu.Lock()
	r.stats.SweepsRun++
	r.stats.PeriodsExpired += expired
	r.stats.PeriodsActivated += activated
	r.stats.CandidatesSkipped += skipped
	r.stats.LastSweepAt = time.Now()
	r.statsMu.Unlock()

	log.Printf("[reconciler] Sweep %s completed in %v (expired: %d, activated: %d, skipped: %d)",
		sweepID, time.Since(start), expired, activated, skipped)
	return nil
}

// GetStats returns current reconciler statistics
func (r *Reconciler) GetStats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}
