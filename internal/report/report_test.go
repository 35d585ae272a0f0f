package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/model/modeltest"
	"github.com/rezonia/einvoice-engine/internal/report"
	"github.com/rezonia/einvoice-engine/internal/store"
	"github.com/rezonia/einvoice-engine/internal/store/sqlite"
)

func TestExporter_Write(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SaveDraft(ctx, &store.Draft{
		ID:         "ext-1",
		OwnerID:    "user-1",
		JobID:      "job-1",
		Invoice:    modeltest.GermanInvoice(),
		Confidence: 0.9,
		CreatedAt:  time.Now(),
	}))

	job := &model.BatchJob{
		ID:            "job-1",
		OwnerID:       "user-1",
		Status:        model.JobStatusPartialSuccess,
		TargetFormat:  string(model.FormatXRechnungUBL),
		Sources:       []model.SourceDocument{{Filename: "scan.pdf"}},
		TotalSegments: 2,
		Completed:     1,
		Failed:        1,
		Results: []model.BatchResult{
			{Index: 0, Filename: "scan_p1.pdf", Status: model.ResultStatusCompleted, Attempts: 1,
				ConfidenceScore: 0.9, ExtractionID: "ext-1", OutputKey: "batches/job-1/outputs/000-a.xml"},
			{Index: 1, Filename: "scan_p2.pdf", Status: model.ResultStatusFailed, Attempts: 3,
				Error: "provider status 503"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.NewExporter(db, nil).Write(ctx, job, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{report.SheetSummary, report.SheetSegments}, f.GetSheetList())

	status, err := f.GetCellValue(report.SheetSummary, "B3")
	require.NoError(t, err)
	assert.Equal(t, "partial_success", status)

	rows, err := f.GetRows(report.SheetSegments, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Invoice No.", rows[0][5])

	first := rows[1]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "completed", first[2])
	assert.Equal(t, "RE-2024-0042", first[5])
	assert.Equal(t, "2024-03-01", first[6])
	assert.Equal(t, "Muster Software GmbH", first[8])
	assert.Equal(t, "1404", first[13])
	assert.Equal(t, "batches/job-1/outputs/000-a.xml", first[14])

	second := rows[2]
	assert.Equal(t, "failed", second[2])
	assert.Equal(t, "3", second[3])
	assert.Empty(t, second[5], "no draft, no invoice columns")
	assert.Equal(t, "provider status 503", second[15])
}

func TestExporter_EmptyJob(t *testing.T) {
	var buf bytes.Buffer
	err := report.NewExporter(nil, nil).Write(context.Background(), &model.BatchJob{ID: "job-2", Status: model.JobStatusFailed, Error: "insufficient credits"}, &buf)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(report.SheetSegments)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	msg, err := f.GetCellValue(report.SheetSummary, "B11")
	require.NoError(t, err)
	assert.Equal(t, "insufficient credits", msg)
}
