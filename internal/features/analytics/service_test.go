package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-automation/internal/config"
	"go-automation/internal/features/automation"
)

type testDeps struct {
	contacts *MockContactRepository
	reports  *MockReportService
	logs     *MockLogRepository
	deferred *MockDeferredRepository
	metrics  *MockMetricRepository
	svc      *AnalyticsServiceImpl
}

func newTestService(t *testing.T, now time.Time) *testDeps {
	t.Helper()
	d := &testDeps{
		contacts: &MockContactRepository{Total: 12, Active: 10},
		reports: &MockReportService{Result: &automation.Stats{
			TotalAutomations:  4,
			ActiveAutomations: 3,
			ExecutionsToday:   7,
			SuccessRate:       85.5,
		}},
		logs:     &MockLogRepository{Deleted: 5},
		deferred: &MockDeferredRepository{Stale: 1, Deleted: 2},
		metrics:  NewMockMetricRepository(),
	}
	cfg := &config.Config{Timezone: "UTC", LogRetentionDays: 30}
	svc := NewAnalyticsService(d.contacts, d.reports, d.logs, d.deferred, d.metrics, cfg, zap.NewNop())
	d.svc = svc.(*AnalyticsServiceImpl)
	d.svc.now = func() time.Time { return now }
	return d
}

func TestAggregateMetrics_UpsertsDailySnapshot(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)

	snap, err := d.svc.AggregateMetrics(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-15", snap.Day)
	assert.Equal(t, int64(12), snap.ContactsTotal)
	assert.Equal(t, int64(10), snap.ContactsActive)
	assert.Equal(t, int64(3), snap.AutomationsActive)
	assert.Equal(t, int64(7), snap.ExecutionsToday)

	// A later run the same day replaces the snapshot.
	d.reports.Result.ExecutionsToday = 9
	_, err = d.svc.AggregateMetrics(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, d.metrics.Snapshots, 1)
	assert.Equal(t, int64(9), d.metrics.Snapshots["2024-05-15"].ExecutionsToday)
}

func TestAggregateMetrics_StatsFailure(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)
	d.reports.Result = nil
	d.reports.Err = errors.New("mongo down")

	_, err := d.svc.AggregateMetrics(context.Background(), now)
	require.Error(t, err)
	assert.Empty(t, d.metrics.Snapshots)
}

func TestPrune_UsesRetentionWindow(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)
	d.metrics.Snapshots["2020-01-01"] = MetricSnapshot{Day: "2020-01-01"}

	res, err := d.svc.Prune(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -30), d.logs.Cutoff)
	assert.Equal(t, now.AddDate(0, 0, -30), d.deferred.PruneCutoff)
	assert.Equal(t, now.Add(-staleDeferredAfter), d.deferred.StaleCutoff)
	assert.Equal(t, int64(5), res.LogsDeleted)
	assert.Equal(t, int64(1), res.SnapshotsPruned)
	assert.Equal(t, int64(9), res.Total())
}

func TestPrune_ContinuesAfterFailure(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)
	d.logs.Err = errors.New("delete failed")

	res, err := d.svc.Prune(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete failed")
	assert.Equal(t, int64(2), res.DeferredDeleted)
	assert.False(t, d.deferred.PruneCutoff.IsZero())
}

func TestHistory_ClampsRange(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)
	for _, day := range []string{"2024-05-01", "2024-05-14", "2024-05-15"} {
		d.metrics.Snapshots[day] = MetricSnapshot{Day: day}
	}

	snaps, err := d.svc.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "2024-05-14", snaps[0].Day)

	snaps, err = d.svc.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestController_MetricHistory(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	d := newTestService(t, now)
	d.metrics.Snapshots["2024-05-15"] = MetricSnapshot{Day: "2024-05-15", ExecutionsToday: 3}

	app := fiber.New()
	NewAnalyticsApi(NewAnalyticsController(d.svc)).Setup(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/analytics/metrics?days=7", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var snaps []MetricSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(3), snaps[0].ExecutionsToday)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/analytics/metrics?days=x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
