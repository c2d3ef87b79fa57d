package hunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

var ErrRunInProgress = errors.New("hunt already running")

// Runner executes one hunt.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler triggers runs on a cron schedule or on demand and never lets
// two runs overlap.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	logger  *slog.Logger
	running sync.Mutex
	ctx     context.Context
	wg      sync.WaitGroup
}

func NewScheduler(ctx context.Context, runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
		ctx:    ctx,
	}
}

// Schedule registers spec, a standard five-field cron expression.
func (s *Scheduler) Schedule(spec string) error {
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunNow(s.ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Error("scheduled hunt failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("add schedule %q: %w", spec, err)
	}
	s.logger.Info("hunt scheduled", "cron", spec, "entry_id", id)
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for the cron loop and any in-flight run.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a hunt synchronously unless one is already running.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer s.running.Unlock()
	return s.runner.Run(ctx)
}

// Kick starts a hunt in the background and reports whether it did.
func (s *Scheduler) Kick() bool {
	if !s.running.TryLock() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		if _, err := s.runner.Run(s.ctx); err != nil {
			s.logger.Error("triggered hunt failed", "err", err)
		}
	}()
	return true
}
