package automation

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestExportLogs(t *testing.T) {
	logs := NewMockLogRepository()
	contactID := primitive.NewObjectID()
	entry := &LogEntry{
		AutomationID:   primitive.NewObjectID(),
		AutomationName: "Birthday",
		ContactID:      &contactID,
		TriggerType:    TriggerBirthday,
		Status:         StatusSuccess,
		ExecutedAt:     time.Date(2024, 5, 15, 8, 0, 0, 0, time.UTC),
		ExecutedBy:     ExecutorSystem,
	}
	require.NoError(t, logs.Append(context.Background(), entry))

	svc := &ReportServiceImpl{Rules: &MockRuleRepository{}, Logs: logs, now: func() time.Time { return time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC) }}
	data, filename, err := svc.ExportLogs(context.Background(), LogFilter{})

	require.NoError(t, err)
	assert.Equal(t, "automation_logs_20240516_000000.xlsx", filename)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportColumns, rows[0])
	assert.Equal(t, "2024-05-15 08:00:00", rows[1][0])
	assert.Equal(t, "Birthday", rows[1][1])
	assert.Equal(t, contactID.Hex(), rows[1][3])
	assert.Equal(t, "success", rows[1][5])
}

func TestStatsIncludesRuleCounts(t *testing.T) {
	rules := &MockRuleRepository{}
	rules.Rules = append(rules.Rules,
		ruleFixture{Trigger: TriggerManual, Action: ActionSendMessage, Payload: `{"message":"a"}`}.parse(t),
		ruleFixture{Trigger: TriggerManual, Action: ActionSendMessage, Payload: `{"message":"b"}`, Inactive: true}.parse(t),
	)
	svc := NewReportService(rules, NewMockLogRepository())

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAutomations)
	assert.Equal(t, int64(1), stats.ActiveAutomations)
	assert.Equal(t, int64(1), stats.InactiveAutomations)
}
