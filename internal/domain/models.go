package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Submission is one file handed to the pipeline. Content is base64.
type Submission struct {
	Filename     string `json:"filename"`
	Content      string `json:"content"`
	MimeType     string `json:"mime_type,omitempty"`
	DeclaredType string `json:"document_type,omitempty"`
}

// Stage is a pipeline run state. Stages only move forward.
type Stage string

const (
	StageReceived             Stage = "RECEIVED"
	StageMaterializing        Stage = "MATERIALIZING"
	StageTextExtracting       Stage = "TEXT_EXTRACTING"
	StageClassifying          Stage = "CLASSIFYING"
	StageStructuredExtracting Stage = "STRUCTURED_EXTRACTING"
	StageReportCompiling      Stage = "REPORT_COMPILING"
	StageCaching              Stage = "CACHING"
	StageSucceeded            Stage = "SUCCEEDED"
	StageFailed               Stage = "FAILED"
)

type stageInfo struct {
	order   int
	percent int // -1 keeps the current progress
	status  string
}

var stages = map[Stage]stageInfo{
	StageReceived:             {0, 0, "Task received"},
	StageMaterializing:        {1, -1, "Saving document..."},
	StageTextExtracting:       {2, 10, "Extracting text..."},
	StageClassifying:          {3, 20, "Classifying document type..."},
	StageStructuredExtracting: {4, 40, "Extracting structured data..."},
	StageReportCompiling:      {5, 70, "Generating reports..."},
	StageCaching:              {6, -1, "Caching result..."},
	StageSucceeded:            {7, 100, "Processing completed"},
	StageFailed:               {8, -1, "Processing failed"},
}

// Order is the position of s in the forward sequence. FAILED sorts last so
// it is reachable from every non-terminal stage.
func (s Stage) Order() int {
	if info, ok := stages[s]; ok {
		return info.order
	}
	return -1
}

// Percent returns the progress a run reports on entering s. ok is false for
// stages that leave the progress where it was.
func (s Stage) Percent() (int, bool) {
	info, known := stages[s]
	if !known || info.percent < 0 {
		return 0, false
	}
	return info.percent, true
}

// StatusMessage is the human-readable status reported on entering s.
func (s Stage) StatusMessage() string {
	return stages[s].status
}

// IsTerminal reports whether s ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// StructuredRecord is the opaque payload produced by structured extraction.
type StructuredRecord map[string]any

// ReportArtifact is one rendered report.
type ReportArtifact struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// Reports maps report names to rendered artifacts.
type Reports map[string]ReportArtifact

// Classification is the classifier's answer for a document body.
type Classification struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Result is the success payload of a run.
type Result struct {
	ExtractedData StructuredRecord `json:"extracted_data"`
	Reports       Reports          `json:"reports"`
	DocumentType  DocumentType     `json:"document_type"`
	Filename      string           `json:"filename"`
}

// FailedStatus is the status value every failure record carries.
const FailedStatus = "failed"

// Failure is the failure payload of a run.
type Failure struct {
	Status    string    `json:"status"`
	Error     string    `json:"error"`
	ErrorType ErrorKind `json:"error_type"`
	Result    *Result   `json:"result"`
}

// NewFailure builds the failure payload for err.
func NewFailure(err error) *Failure {
	return &Failure{
		Status:    FailedStatus,
		Error:     MessageOf(err),
		ErrorType: KindOf(err),
	}
}

// Record is the terminal outcome of a run. Exactly one of Result and Failure
// is set. Only the payload is serialized; the remaining fields are run
// metadata for the worker and ledger.
type Record struct {
	Result  *Result
	Failure *Failure

	TaskID     string
	RunID      string
	CacheKey   string
	CacheHit   bool
	Progress   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the run ended in SUCCEEDED.
func (r Record) Succeeded() bool {
	return r.Result != nil && r.Failure == nil
}

// Stage returns the terminal stage of the record.
func (r Record) Stage() Stage {
	if r.Succeeded() {
		return StageSucceeded
	}
	return StageFailed
}

// MarshalJSON emits the success or failure shape.
func (r Record) MarshalJSON() ([]byte, error) {
	switch {
	case r.Failure != nil:
		return json.Marshal(r.Failure)
	case r.Result != nil:
		return json.Marshal(r.Result)
	default:
		return nil, fmt.Errorf("record has neither result nor failure")
	}
}

// UnmarshalJSON tells the shapes apart by the status field.
func (r *Record) UnmarshalJSON(data []byte) error {
	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Status == FailedStatus {
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		r.Failure, r.Result = &f, nil
		return nil
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	r.Result, r.Failure = &res, nil
	return nil
}

// ProgressEvent is one entry on a run's progress channel.
type ProgressEvent struct {
	TaskID    string       `json:"task_id"`
	RunID     string       `json:"run_id"`
	State     Stage        `json:"state"`
	Progress  int          `json:"progress"`
	Status    string       `json:"status"`
	Result    *Record      `json:"result,omitempty"`
	Batch     *BatchResult `json:"batch,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// BatchCompleted is the status of a finished batch.
const BatchCompleted = "completed"

// BatchResult summarizes a batch of submissions.
type BatchResult struct {
	Status         string `json:"status"`
	FilesProcessed int    `json:"files_processed"`
}
