package analytics

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go-automation/internal/config"
	"go-automation/internal/features/automation"
	"go-automation/internal/features/contact"
)

const (
	// Deferred sends still running after this long are failed, not retried.
	staleDeferredAfter    = 10 * time.Minute
	snapshotRetentionDays = 400
	maxHistoryDays        = 366
)

type AnalyticsService interface {
	AggregateMetrics(ctx context.Context, now time.Time) (*MetricSnapshot, error)
	Prune(ctx context.Context, now time.Time) (*PruneResult, error)
	History(ctx context.Context, days int) ([]MetricSnapshot, error)
}

type AnalyticsServiceImpl struct {
	contacts  contact.ContactRepository
	reports   automation.ReportService
	logs      automation.LogRepository
	deferred  automation.DeferredRepository
	metrics   MetricRepository
	retention time.Duration
	location  *time.Location
	logger    *zap.Logger
	now       func() time.Time
}

func NewAnalyticsService(
	contacts contact.ContactRepository,
	reports automation.ReportService,
	logs automation.LogRepository,
	deferred automation.DeferredRepository,
	metrics MetricRepository,
	cfg *config.Config,
	logger *zap.Logger,
) AnalyticsService {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, using UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}
	days := cfg.LogRetentionDays
	if days < 1 {
		days = 30
	}
	return &AnalyticsServiceImpl{
		contacts:  contacts,
		reports:   reports,
		logs:      logs,
		deferred:  deferred,
		metrics:   metrics,
		retention: time.Duration(days) * 24 * time.Hour,
		location:  loc,
		logger:    logger,
		now:       time.Now,
	}
}

// AggregateMetrics recomputes today's snapshot and stores it.
func (s *AnalyticsServiceImpl) AggregateMetrics(ctx context.Context, now time.Time) (*MetricSnapshot, error) {
	stats, err := s.reports.Stats(ctx)
	if err != nil {
		return nil, err
	}
	total, active, err := s.contacts.CountActive(ctx)
	if err != nil {
		return nil, err
	}

	snap := &MetricSnapshot{
		Day:                  now.In(s.location).Format(dayLayout),
		ContactsTotal:        total,
		ContactsActive:       active,
		AutomationsTotal:     stats.TotalAutomations,
		AutomationsActive:    stats.ActiveAutomations,
		ExecutionsToday:      stats.ExecutionsToday,
		ExecutionsThisWeek:   stats.ExecutionsThisWeek,
		ExecutionsThisMonth:  stats.ExecutionsThisMonth,
		SuccessRate:          stats.SuccessRate,
		AverageExecutionTime: stats.AverageExecutionTime,
		PerRule:              stats.PerRule,
		ComputedAt:           now,
	}
	if err := s.metrics.Upsert(ctx, snap); err != nil {
		return nil, err
	}

	s.logger.Debug("Metrics aggregated",
		zap.String("day", snap.Day),
		zap.Int64("executions_today", snap.ExecutionsToday),
		zap.Float64("success_rate", snap.SuccessRate))
	return snap, nil
}

// Prune removes log entries, claims and finished deferred sends older than
// the retention window, and fails deferred sends stuck in running. Every
// step runs even when an earlier one fails.
func (s *AnalyticsServiceImpl) Prune(ctx context.Context, now time.Time) (*PruneResult, error) {
	var (
		res  PruneResult
		errs error
		err  error
	)
	cutoff := now.Add(-s.retention)

	res.LogsDeleted, err = s.logs.PruneBefore(ctx, cutoff)
	errs = multierr.Append(errs, err)

	res.DeferredStale, err = s.deferred.AbandonStale(ctx, now.Add(-staleDeferredAfter))
	errs = multierr.Append(errs, err)

	res.DeferredDeleted, err = s.deferred.PruneBefore(ctx, cutoff)
	errs = multierr.Append(errs, err)

	oldest := now.In(s.location).AddDate(0, 0, -snapshotRetentionDays).Format(dayLayout)
	res.SnapshotsPruned, err = s.metrics.PruneBefore(ctx, oldest)
	errs = multierr.Append(errs, err)

	if res.DeferredStale > 0 {
		s.logger.Warn("Abandoned stale deferred sends", zap.Int64("count", res.DeferredStale))
	}
	s.logger.Info("Maintenance finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("logs_deleted", res.LogsDeleted),
		zap.Int64("deferred_deleted", res.DeferredDeleted),
		zap.Int64("snapshots_pruned", res.SnapshotsPruned))
	return &res, errs
}

func (s *AnalyticsServiceImpl) History(ctx context.Context, days int) ([]MetricSnapshot, error) {
	if days < 1 {
		days = 30
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}
	today := s.now().In(s.location)
	from := today.AddDate(0, 0, -(days - 1)).Format(dayLayout)
	return s.metrics.History(ctx, from, today.Format(dayLayout))
}
