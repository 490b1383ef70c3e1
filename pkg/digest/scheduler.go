package digest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/notifier/pkg/logger"
)

// Runner runs a digest period.
type Runner interface {
	Run(ctx context.Context, period Period, now time.Time) (Stats, error)
}

// Scheduler triggers digest runs on cron specs.
type Scheduler struct {
	runner     Runner
	cron       *cron.Cron
	dailySpec  string
	weeklySpec string
	now        func() time.Time
	logger     *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) SchedulerOption {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithDailySpec overrides the daily cron spec.
func WithDailySpec(spec string) SchedulerOption {
	return func(s *Scheduler) {
		s.dailySpec = spec
	}
}

// WithWeeklySpec overrides the weekly cron spec.
func WithWeeklySpec(spec string) SchedulerOption {
	return func(s *Scheduler) {
		s.weeklySpec = spec
	}
}

// WithNow overrides the clock passed to runs.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler creates a scheduler that runs both periods at the top of every
// hour, so each user is reached soon after the send hour in their own
// timezone. An empty spec disables that period.
func NewScheduler(runner Runner, opts ...SchedulerOption) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:     runner,
		dailySpec:  "0 * * * *",
		weeklySpec: "0 * * * *",
		now:        time.Now,
		logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s
}

// NewSchedulerFromConfig creates a scheduler using cfg specs and timezone.
func NewSchedulerFromConfig(cfg Config, runner Runner, opts ...SchedulerOption) *Scheduler {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	base := []SchedulerOption{
		WithCron(cron.New(cron.WithLocation(loc), cron.WithLogger(cron.DiscardLogger))),
		WithDailySpec(cfg.DailySpec),
		WithWeeklySpec(cfg.WeeklySpec),
	}
	return NewScheduler(runner, append(base, opts...)...)
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerState
	}

	for period, spec := range map[Period]string{Daily: s.dailySpec, Weekly: s.weeklySpec} {
		if spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(spec, func() { s.trigger(period) }); err != nil {
			return err
		}
		s.logger.Info("digest scheduled", logger.Period(string(period)), slog.String("spec", spec))
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits until they return or ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs period immediately, outside the cron schedule.
func (s *Scheduler) RunNow(ctx context.Context, period Period) (Stats, error) {
	return s.runner.Run(ctx, period, s.now())
}

func (s *Scheduler) trigger(period Period) {
	if _, err := s.runner.Run(s.ctx, period, s.now()); err != nil {
		s.logger.LogAttrs(s.ctx, slog.LevelError, "scheduled digest run failed",
			logger.Period(string(period)),
			logger.Error(err),
		)
	}
}
