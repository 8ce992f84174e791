package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsai/internal/annotate"
	"horse.fit/newsai/internal/globaltime"
	"horse.fit/newsai/internal/runlock"
	"horse.fit/newsai/internal/status"
)

const releaseTimeout = 5 * time.Second

type State int32

const (
	StateIdle State = iota
	StateLocking
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateLocking:
		return "locking"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Runner executes one annotation batch.
type Runner interface {
	RunOnce(ctx context.Context) (annotate.TickStats, error)
}

type TickRecorder interface {
	RecordTick(summary status.TickSummary)
}

type Options struct {
	LockName string
	Owner    string
	LockTTL  time.Duration
	Interval time.Duration
}

// Scheduler runs ticks under a run lock so at most one tick executes at a
// time across every scheduler sharing the locker.
type Scheduler struct {
	runner   Runner
	locker   runlock.Locker
	recorder TickRecorder
	logger   zerolog.Logger
	opts     Options

	state atomic.Int32
}

func New(runner Runner, locker runlock.Locker, recorder TickRecorder, logger zerolog.Logger, opts Options) *Scheduler {
	if opts.LockName == "" {
		opts.LockName = "news_ai_annotate"
	}
	if opts.Owner == "" {
		opts.Owner = runlock.NewOwnerID()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Scheduler{
		runner:   runner,
		locker:   locker,
		recorder: recorder,
		logger:   logger.With().Str("component", "scheduler").Str("owner", opts.Owner).Logger(),
		opts:     opts,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run ticks immediately and then every Interval until ctx is cancelled. A
// tick already in progress is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runTick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	summary, err := s.Tick(ctx)
	switch {
	case errors.Is(err, runlock.ErrLockHeld):
		s.logger.Debug().Msg("run lock busy; tick skipped")
	case err != nil:
		s.logger.Error().Err(err).Msg("tick failed")
	default:
		s.logger.Info().
			Int("candidates", summary.Candidates).
			Int("annotated", summary.Annotated).
			Int("fallback_used", summary.FallbackUsed).
			Int("failed", summary.Failed).
			Int64("reconciled", summary.Reconciled).
			Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
			Msg("tick finished")
	}
}

// Tick runs one batch if the run lock can be taken. It returns
// runlock.ErrLockHeld when another tick, local or remote, holds the lock.
func (s *Scheduler) Tick(ctx context.Context) (status.TickSummary, error) {
	summary := status.TickSummary{StartedAt: globaltime.UTC()}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateLocking)) {
		return s.skip(summary), runlock.ErrLockHeld
	}
	defer s.state.Store(int32(StateIdle))

	acquired, err := s.locker.Acquire(ctx, s.opts.LockName, s.opts.Owner, s.opts.LockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		return s.skip(summary), runlock.ErrLockHeld
	}
	s.state.Store(int32(StateRunning))

	runCtx := context.WithoutCancel(ctx)
	stopRenew := s.renew(runCtx)
	stats, runErr := s.runner.RunOnce(runCtx)
	stopRenew()
	s.release(runCtx)

	summary.FinishedAt = globaltime.UTC()
	summary.Enabled = stats.Enabled
	summary.Candidates = stats.Candidates
	summary.Annotated = stats.Annotated
	summary.FallbackUsed = stats.FallbackUsed
	summary.Failed = stats.Failed
	summary.Reconciled = stats.Reconciled
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	s.record(summary)
	return summary, runErr
}

func (s *Scheduler) skip(summary status.TickSummary) status.TickSummary {
	summary.Skipped = true
	summary.FinishedAt = globaltime.UTC()
	return summary
}

// renew extends the lease every LockTTL/2 while a batch runs.
func (s *Scheduler) renew(ctx context.Context) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.opts.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := s.locker.Acquire(ctx, s.opts.LockName, s.opts.Owner, s.opts.LockTTL)
				if err != nil {
					s.logger.Warn().Err(err).Msg("renew run lock failed")
				} else if !ok {
					s.logger.Warn().Msg("run lock lost to another owner")
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (s *Scheduler) release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()
	if _, err := s.locker.Release(releaseCtx, s.opts.LockName, s.opts.Owner); err != nil {
		s.logger.Warn().Err(err).Msg("release run lock failed")
	}
}

func (s *Scheduler) record(summary status.TickSummary) {
	if s.recorder != nil {
		s.recorder.RecordTick(summary)
	}
}
