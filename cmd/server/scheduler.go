package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realm-ledger/internal/chain"
	"realm-ledger/internal/orchestrator"
)

// Ticker runs one tick. *orchestrator.Orchestrator satisfies it.
type Ticker interface {
	Tick(ctx context.Context, step int) (*orchestrator.TickResult, error)
}

// Scheduler drives ticks with an incrementing step, one at a time.
type Scheduler struct {
	ticker Ticker
	log    *logrus.Logger

	mu         sync.Mutex
	running    bool
	step       int
	runs       int
	skipped    int
	lastRun    time.Time
	lastResult *orchestrator.TickResult
	lastErr    string
}

// SchedulerStatus is the scheduler part of /status.
type SchedulerStatus struct {
	Running    bool                     `json:"running"`
	NextStep   int                      `json:"next_step"`
	Runs       int                      `json:"runs"`
	Skipped    int                      `json:"skipped"`
	LastRun    time.Time                `json:"last_run,omitempty"`
	LastResult *orchestrator.TickResult `json:"last_result,omitempty"`
	LastError  string                   `json:"last_error,omitempty"`
}

// NewScheduler creates a scheduler whose first tick uses startStep.
func NewScheduler(t Ticker, startStep int, log *logrus.Logger) *Scheduler {
	return &Scheduler{ticker: t, step: startStep, log: log}
}

// RunTicker ticks immediately and then every interval until ctx is done.
func (s *Scheduler) RunTicker(ctx context.Context, interval time.Duration) error {
	s.log.WithField("interval", interval).Info("starting tick scheduler")
	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// RunHeads ticks once for every `every` heads received. Heads arriving while a tick
// runs are counted but do not queue further ticks.
func (s *Scheduler) RunHeads(ctx context.Context, heads <-chan chain.Head, every int) error {
	if every < 1 {
		every = 1
	}
	s.log.WithField("every", every).Info("starting new-heads scheduler")

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			seen++
			if seen%every != 0 {
				continue
			}
			s.log.WithField("block", head.Number).Debug("head trigger")
			go s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.skipped++
		s.mu.Unlock()
		s.log.Debug("tick already running, skipping")
		return
	}
	s.running = true
	step := s.step
	s.mu.Unlock()

	result, err := s.ticker.Tick(ctx, step)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.step++
	s.runs++
	s.lastRun = time.Now()
	s.lastResult = result
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
		s.log.WithError(err).WithField("step", step).Error("tick failed")
		return
	}
	if !result.OK() {
		s.log.WithFields(logrus.Fields{"step": step, "errors": result.Errors}).Warn("tick finished with errors")
	}
}

// Status returns a snapshot for /status.
func (s *Scheduler) Status() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Running:    s.running,
		NextStep:   s.step,
		Runs:       s.runs,
		Skipped:    s.skipped,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
		LastError:  s.lastErr,
	}
}
