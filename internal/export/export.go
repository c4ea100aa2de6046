// Package export renders operator workbooks of work that ran out of retries.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"staybook/internal/database"
	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetOutbox    = "Outbox"
	sheetSchedules = "Schedules"
	sheetPayments  = "Payments"

	timeLayout = "2006-01-02 15:04:05"
	rowLimit   = 5000
)

type Exporter struct {
	db     *database.DB
	dir    string
	logger zerolog.Logger
	now    func() time.Time
}

func NewExporter(db *database.DB, dir string, logger *zerolog.Logger) *Exporter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{db: db, dir: dir, logger: l, now: time.Now}
}

// FailedWork builds a workbook with one sheet per kind of failed row. The
// caller owns the returned file and must close it.
func (e *Exporter) FailedWork(ctx context.Context) (*excelize.File, error) {
	store := e.db.Store()
	outbox, err := store.ListOutbox(ctx, database.OutboxFilter{Status: models.OutboxStatusFailed, Limit: rowLimit})
	if err != nil {
		return nil, fmt.Errorf("load failed outbox: %w", err)
	}
	schedules, err := store.ListSchedules(ctx, database.ScheduleFilter{Status: models.ScheduleStatusFailed, Limit: rowLimit})
	if err != nil {
		return nil, fmt.Errorf("load failed schedules: %w", err)
	}
	payments, err := store.ListPayments(ctx, database.PaymentFilter{Status: models.PaymentFailed, Limit: rowLimit})
	if err != nil {
		return nil, fmt.Errorf("load failed payments: %w", err)
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	outboxRows := make([][]any, 0, len(outbox))
	for _, m := range outbox {
		outboxRows = append(outboxRows, []any{
			m.ID, m.TenantID, m.Topic, m.EventType, m.EntityID, m.Attempts,
			deref(m.LastError), m.CreatedAt.Format(timeLayout),
		})
	}
	scheduleRows := make([][]any, 0, len(schedules))
	for _, sc := range schedules {
		scheduleRows = append(scheduleRows, []any{
			sc.ID, sc.TenantID, sc.BookingID, sc.EventType, sc.DueAt.Format(timeLayout),
			sc.Attempts, deref(sc.LastError),
		})
	}
	paymentRows := make([][]any, 0, len(payments))
	for _, p := range payments {
		paymentRows = append(paymentRows, []any{
			p.ID, p.TenantID, p.BookingID, p.OrderID, p.Amount.StringFixed(2), p.Currency,
			p.Method, p.UpdatedAt.Format(timeLayout),
		})
	}

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
	}{
		{sheetOutbox, []string{"ID", "Tenant", "Topic", "Event", "Entity", "Attempts", "Last error", "Created"}, outboxRows},
		{sheetSchedules, []string{"ID", "Tenant", "Booking", "Event", "Due", "Attempts", "Last error"}, scheduleRows},
		{sheetPayments, []string{"ID", "Tenant", "Booking", "Order", "Amount", "Currency", "Method", "Updated"}, paymentRows},
	}
	for i, s := range sheets {
		if err := writeSheet(f, s.name, s.headers, s.rows, header); err != nil {
			_ = f.Close()
			return nil, err
		}
		if i == 0 {
			idx, _ := f.GetSheetIndex(s.name)
			f.SetActiveSheet(idx)
		}
	}
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Export saves the failed-work workbook under the export directory and
// returns its path.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	f, err := e.FailedWork(ctx)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, fmt.Sprintf("failed_work_%s.xlsx", e.now().UTC().Format("2006-01-02_15-04-05")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("failed work exported")
	return path, nil
}

func writeSheet(f *excelize.File, name string, headers []string, rows [][]any, headerStyle int) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(name, cell, h)
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(name, "A1", last, headerStyle)

	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(name, cell, v)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(name, "A", lastCol, 18)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
