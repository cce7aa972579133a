// Package report renders workflow metrics as Excel workbooks.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/workflow"
	"github.com/garyjia/prior-auth/internal/domain/entity"
)

const (
	summarySheet        = "Summary"
	authorizationsSheet = "Authorizations"
	timeLayout          = "2006-01-02 15:04"
)

// AuthorizationLister returns the authorizations to list in the report
type AuthorizationLister interface {
	ListRecent(ctx context.Context, limit int) ([]*entity.AuthorizationRequest, error)
}

// MetricsReporter builds the metrics workbook
type MetricsReporter struct {
	lister AuthorizationLister
	limit  int
	logger *zap.Logger
}

// NewMetricsReporter creates a reporter. lister may be nil, in which case only
// the summary sheet is written.
func NewMetricsReporter(lister AuthorizationLister, limit int, logger *zap.Logger) *MetricsReporter {
	if limit <= 0 {
		limit = 500
	}
	return &MetricsReporter{
		lister: lister,
		limit:  limit,
		logger: logger,
	}
}

// Build renders the workbook and returns the xlsx bytes
func (r *MetricsReporter) Build(ctx context.Context, metrics workflow.PerformanceMetrics, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	percent, err := f.NewStyle(&excelize.Style{NumFmt: 10})
	if err != nil {
		return nil, fmt.Errorf("failed to create percent style: %w", err)
	}

	if err := r.writeSummary(f, metrics, generatedAt, header, percent); err != nil {
		return nil, err
	}

	if r.lister != nil {
		requests, err := r.lister.ListRecent(ctx, r.limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list authorizations: %w", err)
		}
		if err := r.writeAuthorizations(f, requests, header); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	r.logger.Info("Metrics report generated",
		zap.Int64("completed", metrics.TotalRequests),
		zap.Int("size", buf.Len()))
	return buf.Bytes(), nil
}

func (r *MetricsReporter) writeSummary(f *excelize.File, m workflow.PerformanceMetrics, generatedAt time.Time, header, percent int) error {
	rows := [][]interface{}{
		{"Metric", "Value"},
		{"Generated at", generatedAt.UTC().Format(timeLayout)},
		{"Started requests", m.StartedRequests},
		{"Completed requests", m.TotalRequests},
		{"Active workflows", m.ActiveWorkflows},
		{"Auto-approved", m.AutoApproved},
		{"Approved", m.Approved},
		{"Rejected", m.Rejected},
		{"Expired", m.Expired},
		{"Canceled", m.Canceled},
		{"Approval rate", m.ApprovalRate},
		{"Rejection rate", m.RejectionRate},
		{"Expiration rate", m.ExpirationRate},
		{"Cancellation rate", m.CancellationRate},
		{"Average processing (hours)", m.AverageProcessingTime.Hours()},
		{"Rule cache hits", m.CacheStats.Hits},
		{"Rule cache misses", m.CacheStats.Misses},
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}

	if err := f.SetCellStyle(summarySheet, "A1", "B1", header); err != nil {
		return fmt.Errorf("failed to style summary header: %w", err)
	}
	// rate rows
	if err := f.SetCellStyle(summarySheet, "B11", "B14", percent); err != nil {
		return fmt.Errorf("failed to style rates: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 30)
}

func (r *MetricsReporter) writeAuthorizations(f *excelize.File, requests []*entity.AuthorizationRequest, header int) error {
	if _, err := f.NewSheet(authorizationsSheet); err != nil {
		return fmt.Errorf("failed to create authorizations sheet: %w", err)
	}

	columns := []interface{}{
		"ID", "Patient", "Provider", "Procedure code", "Urgency", "State",
		"Estimated cost", "Coverage", "Escalation level", "Appeals", "Created", "Completed", "Hours open",
	}
	if err := f.SetSheetRow(authorizationsSheet, "A1", &columns); err != nil {
		return fmt.Errorf("failed to write authorizations header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	if err := f.SetCellStyle(authorizationsSheet, "A1", lastCol+"1", header); err != nil {
		return fmt.Errorf("failed to style authorizations header: %w", err)
	}

	for i, req := range requests {
		completed := ""
		hours := 0.0
		if req.CompletedAt != nil {
			completed = req.CompletedAt.UTC().Format(timeLayout)
			hours = req.CompletedAt.Sub(req.CreatedAt).Hours()
		}

		row := []interface{}{
			req.ID,
			req.PatientID,
			req.ProviderID,
			req.ProcedureCode,
			string(req.Urgency),
			string(req.State),
			req.EstimatedCost,
			req.CoverageAmount,
			req.EscalationLevel,
			len(req.Appeals),
			req.CreatedAt.UTC().Format(timeLayout),
			completed,
			hours,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(authorizationsSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write authorization %s: %w", req.ID, err)
		}
	}

	return f.SetPanes(authorizationsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
