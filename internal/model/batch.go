package model

import "time"

// JobStatus is the batch job state
type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
	JobStatusPartialSuccess JobStatus = "partial_success"
)

// IsTerminal reports whether no further transition happens
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartialSuccess:
		return true
	}
	return false
}

// ResultStatus is the per-segment outcome
type ResultStatus string

const (
	ResultStatusPending   ResultStatus = "pending"
	ResultStatusCompleted ResultStatus = "completed"
	ResultStatusFailed    ResultStatus = "failed"
)

// SourceDocument references one uploaded file of a batch
type SourceDocument struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Key      string `json:"key"` // artifact store key of the raw bytes
}

// BatchJob tracks one multi-document extraction run
type BatchJob struct {
	ID            string           `json:"id"`
	OwnerID       string           `json:"owner_id"`
	Status        JobStatus        `json:"status"`
	TargetFormat  string           `json:"target_format,omitempty"`
	Sources       []SourceDocument `json:"sources"`
	Results       []BatchResult    `json:"results"`
	TotalSegments int              `json:"total_segments"`
	Completed     int              `json:"completed"`
	Failed        int              `json:"failed"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// BatchResult is the outcome of one source segment
type BatchResult struct {
	Index           int          `json:"index"`
	Filename        string       `json:"filename"`
	Status          ResultStatus `json:"status"`
	ExtractionID    string       `json:"extraction_id,omitempty"`
	ConfidenceScore float64      `json:"confidence_score"`
	Attempts        int          `json:"attempts"`
	OutputKey       string       `json:"output_key,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// FinalStatus computes the terminal status from segment counts
func FinalStatus(total, failed int) JobStatus {
	switch {
	case failed == 0:
		return JobStatusCompleted
	case failed >= total:
		return JobStatusFailed
	default:
		return JobStatusPartialSuccess
	}
}

// Extraction is what an extractor returns for one segment
type Extraction struct {
	Invoice        *Invoice      `json:"invoice"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
}
