// Package report exports batch job results as an XLSX workbook.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/store"
)

// Sheet names
const (
	SheetSummary  = "Summary"
	SheetSegments = "Segments"
)

var segmentHeader = []any{
	"#", "File", "Status", "Attempts", "Confidence", "Invoice No.", "Date", "Currency",
	"Seller", "Seller VAT ID", "Buyer", "Net", "VAT", "Total", "Output", "Error",
}

// Exporter writes batch workbooks. Invoice columns are filled from the
// extraction drafts; a missing draft leaves them blank.
type Exporter struct {
	drafts store.DraftStore
	logger *zap.Logger
}

// NewExporter creates an exporter
func NewExporter(drafts store.DraftStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{drafts: drafts, logger: logger}
}

// Write renders the job into w
func (e *Exporter) Write(ctx context.Context, job *model.BatchJob, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSegments); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := e.writeSummary(f, job, bold); err != nil {
		return err
	}
	if err := e.writeSegments(ctx, f, job, bold, money); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	e.logger.Info("batch report written", zap.String("job_id", job.ID), zap.Int("segments", len(job.Results)))
	return nil
}

func (e *Exporter) writeSummary(f *excelize.File, job *model.BatchJob, bold int) error {
	rows := [][]any{
		{"Job", job.ID},
		{"Owner", job.OwnerID},
		{"Status", string(job.Status)},
		{"Target format", job.TargetFormat},
		{"Documents", len(job.Sources)},
		{"Segments", job.TotalSegments},
		{"Completed", job.Completed},
		{"Failed", job.Failed},
		{"Created", job.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Updated", job.UpdatedAt.UTC().Format("2006-01-02 15:04:05")},
	}
	if job.Error != "" {
		rows = append(rows, []any{"Error", job.Error})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	if err := f.SetCellStyle(SheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return f.SetColWidth(SheetSummary, "A", "B", 24)
}

func (e *Exporter) writeSegments(ctx context.Context, f *excelize.File, job *model.BatchJob, bold, money int) error {
	if err := f.SetSheetRow(SheetSegments, "A1", &segmentHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(segmentHeader), 1)
	if err := f.SetCellStyle(SheetSegments, "A1", last, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range job.Results {
		row := []any{r.Index + 1, r.Filename, string(r.Status), r.Attempts, r.ConfidenceScore}
		row = append(row, e.invoiceColumns(ctx, r)...)
		row = append(row, r.OutputKey, r.Error)

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetSegments, cell, &row); err != nil {
			return fmt.Errorf("failed to write segment %d: %w", r.Index, err)
		}
	}

	if n := len(job.Results); n > 0 {
		if err := f.SetCellStyle(SheetSegments, "L2", fmt.Sprintf("N%d", n+1), money); err != nil {
			return fmt.Errorf("failed to style amounts: %w", err)
		}
	}
	return f.SetColWidth(SheetSegments, "B", "B", 28)
}

// invoiceColumns returns the nine invoice cells of a segment row
func (e *Exporter) invoiceColumns(ctx context.Context, r model.BatchResult) []any {
	blank := make([]any, 9)
	if r.ExtractionID == "" || e.drafts == nil {
		return blank
	}

	draft, err := e.drafts.GetDraft(ctx, r.ExtractionID)
	if err != nil || draft.Invoice == nil {
		e.logger.Warn("draft unavailable for report", zap.String("extraction_id", r.ExtractionID), zap.Error(err))
		return blank
	}

	inv := draft.Invoice
	return []any{
		inv.InvoiceNumber,
		inv.InvoiceDate.Format("2006-01-02"),
		inv.Currency,
		inv.Seller.Name,
		inv.Seller.VATID,
		inv.Buyer.Name,
		inv.Totals.EffectiveTaxBasis().InexactFloat64(),
		inv.Totals.TaxAmount.InexactFloat64(),
		inv.Totals.TotalAmount.InexactFloat64(),
	}
}
