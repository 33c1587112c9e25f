// Package scheduler implements the Scheduler (spec §4.9): four
// independent periodic drivers (synthesis, utility, orphan sweep,
// inactivity timeout) that can also be triggered manually without
// disturbing the schedule.
// Grounded on the teacher's cmd/agentd goroutine+ticker idiom for
// long-running background drivers, using golang.org/x/sync/errgroup to
// manage their lifetimes together.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the four drivers' intervals and the actions they invoke.
// Actions are injected so the scheduler stays decoupled from the queue,
// utility updater, and episodic store it drives.
type Config struct {
	SynthesisInterval  time.Duration // default 10s
	UtilityInterval    time.Duration // default 24h
	OrphanInterval     time.Duration // default 1h
	InactivityInterval time.Duration // default 5m

	RunSynthesisBatch    func(ctx context.Context)
	RunUtilityUpdate     func(ctx context.Context)
	RunOrphanSweep       func(ctx context.Context)
	RunInactivityTimeout func(ctx context.Context)
}

func (c *Config) applyDefaults() {
	if c.SynthesisInterval <= 0 {
		c.SynthesisInterval = 10 * time.Second
	}
	if c.UtilityInterval <= 0 {
		c.UtilityInterval = 24 * time.Hour
	}
	if c.OrphanInterval <= 0 {
		c.OrphanInterval = time.Hour
	}
	if c.InactivityInterval <= 0 {
		c.InactivityInterval = 5 * time.Minute
	}
}

// Scheduler owns the four drivers' lifetimes. start is idempotent; stop
// cancels all of them and waits for them to return.
type Scheduler struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	cfg     Config
}

func New(cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{cfg: cfg}
}

// Start launches the four drivers if not already running. Calling Start
// again while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)

	group.Go(func() error { driveTicker(gctx, s.cfg.SynthesisInterval, s.cfg.RunSynthesisBatch); return nil })
	group.Go(func() error { driveTicker(gctx, s.cfg.UtilityInterval, s.cfg.RunUtilityUpdate); return nil })
	group.Go(func() error { driveTicker(gctx, s.cfg.OrphanInterval, s.cfg.RunOrphanSweep); return nil })
	group.Go(func() error { driveTicker(gctx, s.cfg.InactivityInterval, s.cfg.RunInactivityTimeout); return nil })

	s.cancel = cancel
	s.group = group
	s.running = true
}

// Stop cancels all four drivers and blocks until they have returned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	group := s.group
	s.running = false
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	cancel()
	_ = group.Wait()
}

// Running reports whether the scheduler's drivers are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerSynthesis, TriggerUtilityUpdate, TriggerOrphanSweep, and
// TriggerInactivityTimeout invoke the same underlying routine as its
// periodic driver, without disturbing the driver's own schedule.
func (s *Scheduler) TriggerSynthesis(ctx context.Context) {
	if s.cfg.RunSynthesisBatch != nil {
		s.cfg.RunSynthesisBatch(ctx)
	}
}

func (s *Scheduler) TriggerUtilityUpdate(ctx context.Context) {
	if s.cfg.RunUtilityUpdate != nil {
		s.cfg.RunUtilityUpdate(ctx)
	}
}

func (s *Scheduler) TriggerOrphanSweep(ctx context.Context) {
	if s.cfg.RunOrphanSweep != nil {
		s.cfg.RunOrphanSweep(ctx)
	}
}

func (s *Scheduler) TriggerInactivityTimeout(ctx context.Context) {
	if s.cfg.RunInactivityTimeout != nil {
		s.cfg.RunInactivityTimeout(ctx)
	}
}

// driveTicker runs action once per interval until ctx is cancelled. A nil
// action is tolerated as a configured-off driver.
func driveTicker(ctx context.Context, interval time.Duration, action func(ctx context.Context)) {
	if action == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			action(ctx)
		}
	}
}
