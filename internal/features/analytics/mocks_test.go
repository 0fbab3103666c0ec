package analytics

import (
	"context"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-automation/internal/features/automation"
	"go-automation/internal/features/contact"
)

type MockContactRepository struct {
	Total, Active int64
	Err           error
}

func (m *MockContactRepository) Get(ctx context.Context, id primitive.ObjectID) (*contact.Contact, error) {
	return nil, contact.ErrContactNotFound
}

func (m *MockContactRepository) Update(ctx context.Context, id primitive.ObjectID, update contact.Update) error {
	return nil
}

func (m *MockContactRepository) ListByBirthday(ctx context.Context, day time.Time) ([]contact.Contact, error) {
	return nil, nil
}

func (m *MockContactRepository) ListActive(ctx context.Context, tags []string) ([]contact.Contact, error) {
	return nil, nil
}

func (m *MockContactRepository) CountActive(ctx context.Context) (int64, int64, error) {
	return m.Total, m.Active, m.Err
}

type MockReportService struct {
	Result *automation.Stats
	Err    error
}

func (m *MockReportService) Stats(ctx context.Context) (*automation.Stats, error) {
	return m.Result, m.Err
}

func (m *MockReportService) ListLogs(ctx context.Context, filter automation.LogFilter) ([]automation.LogEntry, error) {
	return nil, nil
}

func (m *MockReportService) ExportLogs(ctx context.Context, filter automation.LogFilter) ([]byte, string, error) {
	return nil, "", nil
}

type MockLogRepository struct {
	Cutoff  time.Time
	Deleted int64
	Err     error
}

func (m *MockLogRepository) Append(ctx context.Context, entry *automation.LogEntry) error { return nil }

func (m *MockLogRepository) GetClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string) (*automation.Claim, error) {
	return nil, nil
}

func (m *MockLogRepository) CompleteClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string, at time.Time) error {
	return nil
}

func (m *MockLogRepository) InsertClaimIfAbsent(ctx context.Context, claim automation.Claim) (bool, error) {
	return true, nil
}

func (m *MockLogRepository) List(ctx context.Context, filter automation.LogFilter) ([]automation.LogEntry, error) {
	return nil, nil
}

func (m *MockLogRepository) Stats(ctx context.Context, now time.Time) (*automation.Stats, error) {
	return &automation.Stats{}, nil
}

func (m *MockLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.Cutoff = cutoff
	return m.Deleted, m.Err
}

func (m *MockLogRepository) EnsureIndexes(ctx context.Context) error { return nil }

type MockDeferredRepository struct {
	StaleCutoff time.Time
	PruneCutoff time.Time
	Stale       int64
	Deleted     int64
}

func (m *MockDeferredRepository) Enqueue(ctx context.Context, item *automation.DeferredDispatch) error {
	return nil
}

func (m *MockDeferredRepository) ClaimDue(ctx context.Context, now time.Time) (*automation.DeferredDispatch, error) {
	return nil, nil
}

func (m *MockDeferredRepository) Complete(ctx context.Context, id primitive.ObjectID, status automation.DeferredStatus, errMsg string) error {
	return nil
}

func (m *MockDeferredRepository) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.StaleCutoff = cutoff
	return m.Stale, nil
}

func (m *MockDeferredRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.PruneCutoff = cutoff
	return m.Deleted, nil
}

// MockMetricRepository keeps snapshots keyed by day.
type MockMetricRepository struct {
	Snapshots map[string]MetricSnapshot
	PrunedTo  string
}

func NewMockMetricRepository() *MockMetricRepository {
	return &MockMetricRepository{Snapshots: map[string]MetricSnapshot{}}
}

func (m *MockMetricRepository) Upsert(ctx context.Context, snap *MetricSnapshot) error {
	m.Snapshots[snap.Day] = *snap
	return nil
}

func (m *MockMetricRepository) History(ctx context.Context, from, to string) ([]MetricSnapshot, error) {
	out := []MetricSnapshot{}
	for day, s := range m.Snapshots {
		if day >= from && day <= to {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MockMetricRepository) PruneBefore(ctx context.Context, day string) (int64, error) {
	m.PrunedTo = day
	var n int64
	for d := range m.Snapshots {
		if d < day {
			delete(m.Snapshots, d)
			n++
		}
	}
	return n, nil
}

func (m *MockMetricRepository) EnsureIndexes(ctx context.Context) error { return nil }
