package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"go-automation/internal/config"
	"go-automation/internal/features/analytics"
	"go-automation/internal/features/automation"
)

const (
	jobTimeout      = 5 * time.Minute
	defaultRunLimit = 50
	maxRunLimit     = 500
)

var (
	ErrJobNotFound = errors.New("scheduler job not found")
	ErrJobRunning  = errors.New("scheduler job already running")
)

type SchedulerService interface {
	Start(ctx context.Context) error
	Stop() error
	RunJob(ctx context.Context, name string) (*JobRun, error)
	Jobs() []JobInfo
	ListRuns(ctx context.Context, job string, limit int) ([]JobRun, error)
}

// JobFunc does one unit of scheduled work and reports how many items it
// handled.
type JobFunc func(ctx context.Context, now time.Time) (int64, error)

type job struct {
	name     string
	schedule string
	run      JobFunc
	// quiet jobs fire often and only leave a run record when they did
	// something or failed.
	quiet   bool
	running atomic.Bool
	entry   cron.EntryID
}

type SchedulerServiceImpl struct {
	engine    automation.Engine
	analytics analytics.AnalyticsService
	repo      RunRepository
	logger    *zap.Logger
	location  *time.Location
	retention time.Duration
	now       func() time.Time

	scheduler *cron.Cron
	jobs      map[string]*job
	order     []string
	mu        sync.RWMutex
}

func NewSchedulerService(
	engine automation.Engine,
	analyticsService analytics.AnalyticsService,
	repo RunRepository,
	cfg *config.Config,
	logger *zap.Logger,
) SchedulerService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	days := cfg.LogRetentionDays
	if days < 1 {
		days = 30
	}
	s := &SchedulerServiceImpl{
		engine:    engine,
		analytics: analyticsService,
		repo:      repo,
		logger:    logger,
		location:  loc,
		retention: time.Duration(days) * 24 * time.Hour,
		now:       time.Now,
		jobs:      make(map[string]*job),
	}
	s.register(JobTick, cfg.TickSchedule, true, s.tick)
	s.register(JobDeferred, cfg.DeferredSchedule, true, s.drainDeferred)
	s.register(JobAnalytics, cfg.AnalyticsSchedule, false, s.aggregate)
	s.register(JobPrune, cfg.PruneSchedule, false, s.prune)
	return s
}

func (s *SchedulerServiceImpl) register(name, schedule string, quiet bool, run JobFunc) {
	s.jobs[name] = &job{name: name, schedule: strings.TrimSpace(schedule), run: run, quiet: quiet}
	s.order = append(s.order, name)
}

func (s *SchedulerServiceImpl) tick(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.engine.HandleEvent(ctx, automation.NewTickEvent(now))
	if err != nil {
		return 0, err
	}
	return int64(len(res.Entries)), nil
}

func (s *SchedulerServiceImpl) drainDeferred(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.engine.RunDeferred(ctx)
	return int64(n), err
}

func (s *SchedulerServiceImpl) aggregate(ctx context.Context, now time.Time) (int64, error) {
	if _, err := s.analytics.AggregateMetrics(ctx, now); err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *SchedulerServiceImpl) prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.analytics.Prune(ctx, now)
	var total int64
	if res != nil {
		total = res.Total()
	}
	runs, runErr := s.repo.PruneBefore(ctx, now.Add(-s.retention))
	if err == nil {
		err = runErr
	}
	return total + runs, err
}

// Start registers every enabled job and starts the cron loop. A job with an
// empty or "off" schedule is disabled. An invalid schedule fails startup.
func (s *SchedulerServiceImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := newCronLogger(s.logger)
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, name := range s.order {
		j := s.jobs[name]
		if !enabled(j.schedule) {
			s.logger.Info("Scheduler job disabled", zap.String("job", name))
			continue
		}
		entry, err := c.AddFunc(j.schedule, func() {
			if _, err := s.execute(context.Background(), j, TriggerSchedule); err != nil && !errors.Is(err, ErrJobRunning) {
				s.logger.Warn("Scheduler job failed", zap.String("job", j.name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", j.schedule, name, err)
		}
		j.entry = entry
	}

	s.scheduler = c
	c.Start()
	s.logger.Info("Scheduler started", zap.String("timezone", s.location.String()), zap.Int("entries", len(c.Entries())))
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *SchedulerServiceImpl) Stop() error {
	s.mu.Lock()
	c := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done()
		s.logger.Info("Scheduler stopped")
	}
	return nil
}

// RunJob executes a job immediately, outside its schedule.
func (s *SchedulerServiceImpl) RunJob(ctx context.Context, name string) (*JobRun, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, ErrJobNotFound
	}
	return s.execute(ctx, j, TriggerManual)
}

func (s *SchedulerServiceImpl) execute(ctx context.Context, j *job, trigger string) (*JobRun, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrJobRunning
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := s.now()
	run := &JobRun{Job: j.name, Trigger: trigger, StartTime: start, Status: RunRunning}
	record := !j.quiet || trigger == TriggerManual
	if record {
		if err := s.repo.CreateRun(ctx, run); err != nil {
			s.logger.Warn("Failed to create job run", zap.String("job", j.name), zap.Error(err))
			record = false
		}
	}

	processed, execErr := j.run(ctx, start)

	end := s.now()
	run.EndTime = &end
	run.Processed = processed
	run.Status = RunSuccess
	if execErr != nil {
		run.Status = RunFailed
		run.Error = execErr.Error()
	}

	switch {
	case record:
		if err := s.repo.UpdateRun(ctx, run); err != nil {
			s.logger.Warn("Failed to update job run", zap.String("job", j.name), zap.Error(err))
		}
	case processed > 0 || execErr != nil:
		if err := s.repo.CreateRun(ctx, run); err != nil {
			s.logger.Warn("Failed to create job run", zap.String("job", j.name), zap.Error(err))
		}
	}

	if processed > 0 {
		s.logger.Debug("Scheduler job finished",
			zap.String("job", j.name),
			zap.Int64("processed", processed),
			zap.Duration("took", end.Sub(start)))
	}
	return run, execErr
}

func (s *SchedulerServiceImpl) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		info := JobInfo{
			Name:     name,
			Schedule: j.schedule,
			Enabled:  enabled(j.schedule),
			Running:  j.running.Load(),
		}
		if s.scheduler != nil && j.entry != 0 {
			e := s.scheduler.Entry(j.entry)
			if !e.Next.IsZero() {
				next := e.Next
				info.NextRun = &next
			}
			if !e.Prev.IsZero() {
				prev := e.Prev
				info.LastRun = &prev
			}
		}
		out = append(out, info)
	}
	return out
}

func (s *SchedulerServiceImpl) ListRuns(ctx context.Context, job string, limit int) ([]JobRun, error) {
	if job != "" {
		if _, ok := s.jobs[job]; !ok {
			return nil, ErrJobNotFound
		}
	}
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}
	return s.repo.ListRuns(ctx, job, limit)
}

func enabled(schedule string) bool {
	return schedule != "" && !strings.EqualFold(schedule, "off")
}
