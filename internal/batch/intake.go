package batch

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/pdf"
)

const mimePDF = "application/pdf"

// Segment is one invoice cut out of a source document
type Segment struct {
	Index    int
	Source   int
	Filename string
	MimeType string
	Pages    pdf.PageRange
	Data     []byte
}

// DetectMimeType keeps a specific declared type and sniffs the content otherwise
func DetectMimeType(data []byte, declared string) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	mediaType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return mediaType
}

// segments loads every source and cuts multi-invoice PDFs into segments.
// Boundary detection problems degrade to one segment per source.
func (o *Orchestrator) segments(ctx context.Context, job *model.BatchJob) ([]Segment, error) {
	var out []Segment
	for i, src := range job.Sources {
		data, err := o.blobs.Get(ctx, src.Key)
		if err != nil {
			return nil, fmt.Errorf("load source %s: %w", src.Filename, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("source %s is empty", src.Filename)
		}

		mimeType := DetectMimeType(data, src.MimeType)
		parts := []Segment{{Source: i, Filename: src.Filename, MimeType: mimeType, Data: data}}
		if mimeType == mimePDF {
			parts = o.splitPDF(job.ID, i, src.Filename, data)
		}

		for _, p := range parts {
			p.Index = len(out)
			out = append(out, p)
		}
	}
	return out, nil
}

func (o *Orchestrator) splitPDF(jobID string, source int, filename string, data []byte) []Segment {
	whole := []Segment{{Source: source, Filename: filename, MimeType: mimePDF, Data: data}}

	texts, err := o.pages.PageTexts(data)
	if err != nil {
		o.logger.Warn("boundary detection skipped",
			zap.String("job_id", jobID),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return whole
	}

	ranges := DetectBoundaries(texts)
	if len(ranges) <= 1 {
		if len(ranges) == 1 {
			whole[0].Pages = ranges[0]
		}
		return whole
	}

	parts, err := pdf.Split(data, ranges)
	if err != nil {
		o.logger.Warn("split failed, keeping document whole",
			zap.String("job_id", jobID),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return whole
	}

	out := make([]Segment, len(parts))
	for i, part := range parts {
		out[i] = Segment{
			Source:   source,
			Filename: segmentName(filename, ranges[i]),
			MimeType: mimePDF,
			Pages:    ranges[i],
			Data:     part,
		}
	}
	o.logger.Debug("split source document",
		zap.String("job_id", jobID),
		zap.String("filename", filename),
		zap.Int("invoices", len(out)),
	)
	return out
}

// segmentName turns scan.pdf and pages 3-4 into scan_p3-4.pdf
func segmentName(filename string, r pdf.PageRange) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("%s_p%s%s", strings.TrimSuffix(filename, ext), r, ext)
}
