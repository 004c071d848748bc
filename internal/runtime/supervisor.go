// Package runtime provides the shared background-loop supervisor used by
// the orchestrator, adapter, and summarizer runtimes. A supervisor runs one
// cycle function on a poll interval, optionally woken early by a live event
// subscription, and exposes counters over the control API.
package runtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/models"
)

// CycleFunc performs one unit of background work and reports how many items
// it handled. Errors are recorded on the supervisor, not fatal to the loop.
type CycleFunc func(ctx context.Context) (int, error)

// WakeFunc opens a live event subscription that wakes the loop before the
// next poll tick. The returned cancel releases the subscription.
type WakeFunc func() (<-chan *models.Event, func())

// Config describes one supervised loop.
type Config struct {
	Name        string
	CounterName string // status key for the work counter, e.g. "assignments"
	Interval    time.Duration
	Cycle       CycleFunc
	Wake        WakeFunc // optional
}

// Supervisor owns a single background loop. Start is idempotent; Stop
// cancels the loop and waits for it to exit.
type Supervisor struct {
	cfg Config
	log *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	cycles      int
	counted     int
	lastCycleAt *time.Time
	lastError   *string
}

func NewSupervisor(cfg Config, log *logger.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, log: log}
}

// Start launches the loop if it is not already running and returns the
// resulting status.
func (s *Supervisor) Start() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return s.statusLocked()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.log.Info("runtime started", zap.String("runtime", s.cfg.Name))
	return s.statusLocked()
}

// Stop cancels the loop, waits for it to exit, and returns the resulting
// status.
func (s *Supervisor) Stop() map[string]any {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		s.log.Info("runtime stopped", zap.String("runtime", s.cfg.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Status reports the loop's liveness and counters.
func (s *Supervisor) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() map[string]any {
	status := map[string]any{
		"running": s.cancel != nil,
		"cycles":  s.cycles,
	}
	status[s.cfg.CounterName] = s.counted
	if s.lastCycleAt != nil {
		status["last_cycle_at"] = s.lastCycleAt.Format(time.RFC3339Nano)
	} else {
		status["last_cycle_at"] = nil
	}
	if s.lastError != nil {
		status["last_error"] = *s.lastError
	} else {
		status["last_error"] = nil
	}
	return status
}

// RunOnce executes a single cycle on the caller's goroutine and updates the
// counters. Used by the manual tick endpoints and by the loop itself.
func (s *Supervisor) RunOnce(ctx context.Context) (int, error) {
	count, err := s.cfg.Cycle(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	now := time.Now().UTC()
	s.lastCycleAt = &now
	if err != nil {
		msg := err.Error()
		s.lastError = &msg
		return count, err
	}
	s.counted += count
	s.lastError = nil
	return count, nil
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var wake <-chan *models.Event
	if s.cfg.Wake != nil {
		ch, cancel := s.cfg.Wake()
		defer cancel()
		wake = ch
	}

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("runtime cycle failed",
				zap.String("runtime", s.cfg.Name),
				zap.Error(err))
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.Interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-wake:
		}
	}
}
