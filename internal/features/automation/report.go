package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Automation Logs"

var exportColumns = []string{
	"Executed At", "Automation", "Automation ID", "Contact ID", "Trigger",
	"Status", "Execution Time (s)", "Contacts Affected", "Executed By", "Error",
}

type ReportService interface {
	Stats(ctx context.Context) (*Stats, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)
	ExportLogs(ctx context.Context, filter LogFilter) ([]byte, string, error)
}

type ReportServiceImpl struct {
	Rules RuleRepository
	Logs  LogRepository
	now   func() time.Time
}

func NewReportService(rules RuleRepository, logs LogRepository) ReportService {
	return &ReportServiceImpl{Rules: rules, Logs: logs, now: time.Now}
}

func (s *ReportServiceImpl) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.Logs.Stats(ctx, s.now())
	if err != nil {
		return nil, err
	}
	total, active, err := s.Rules.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalAutomations = total
	stats.ActiveAutomations = active
	stats.InactiveAutomations = total - active
	return stats, nil
}

func (s *ReportServiceImpl) ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	return s.Logs.List(ctx, filter)
}

func (s *ReportServiceImpl) ExportLogs(ctx context.Context, filter LogFilter) ([]byte, string, error) {
	entries, err := s.Logs.List(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, "", err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, col)
		f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	for rowIdx, e := range entries {
		contactID := ""
		if e.ContactID != nil {
			contactID = e.ContactID.Hex()
		}
		row := []interface{}{
			e.ExecutedAt.Format("2006-01-02 15:04:05"),
			e.AutomationName,
			e.AutomationID.Hex(),
			contactID,
			string(e.TriggerType),
			string(e.Status),
			e.ExecutionTime,
			e.ContactsAffected,
			e.ExecutedBy,
			e.ErrorMessage,
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, "", err
		}
	}

	for i := range exportColumns {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(exportSheet, col, col, 18)
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buffer.Bytes(), fmt.Sprintf("automation_logs_%s.xlsx", s.now().Format("20060102_150405")), nil
}
