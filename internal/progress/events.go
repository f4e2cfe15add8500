// Package progress implements the progress bus: one publish source,
// a durable process-status sink, and an SSE fan-out sink.
package progress

import (
	"time"

	"github.com/notescan/notescan/internal/types"
)

// EventType discriminates progress events on the wire.
type EventType string

const (
	EventConnection          EventType = "connection"
	EventUploadProgress      EventType = "upload_progress"
	EventUploadCompleted     EventType = "upload_completed"
	EventUploadFailed        EventType = "upload_failed"
	EventExtractionProgress  EventType = "extraction_progress"
	EventBatchCompleted      EventType = "batch_completed"
	EventBatchWarning        EventType = "batch_warning"
	EventExtractionRetry     EventType = "extraction_retry"
	EventExtractionCompleted EventType = "extraction_completed"
	EventExtractionError     EventType = "extraction_error"
)

// ProcessType values for the durable sink.
const (
	ProcessUpload     = "upload"
	ProcessExtraction = "extraction"
)

// UploadResult summarizes a finished upload inside an upload_completed
// event.
type UploadResult struct {
	ProcessedRecords int     `json:"processed_records"`
	NewPatients      int     `json:"new_patients"`
	NewNotes         int     `json:"new_notes"`
	DurationSec      float64 `json:"duration"`
}

// Event is one progress record. Type selects which fields are
// meaningful; unset fields are omitted from the wire form.
type Event struct {
	Type EventType `json:"type"`

	// connection
	Status string `json:"status,omitempty"`

	// upload_*
	JobID            string        `json:"job_id,omitempty"`
	FileName         string        `json:"file_name,omitempty"`
	ProcessedRecords int           `json:"processed_records,omitempty"`
	TotalRecords     int           `json:"total_records,omitempty"`
	Rate             float64       `json:"rate,omitempty"`
	ETASec           float64       `json:"eta,omitempty"`
	Percentage       float64       `json:"percentage,omitempty"`
	Result           *UploadResult `json:"result,omitempty"`

	// extraction_* / batch_*
	Batch           int     `json:"batch,omitempty"`
	TotalBatches    int     `json:"total_batches,omitempty"`
	BatchProgress   float64 `json:"batch_progress,omitempty"`
	OverallProgress float64 `json:"overall_progress,omitempty"`
	MentionsFound   int     `json:"mentions_found,omitempty"`
	Attempt         int     `json:"attempt,omitempty"`
	MaxRetries      int     `json:"max_retries,omitempty"`
	WaitMS          int64   `json:"wait_ms,omitempty"`

	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Connected is the frame sent when an SSE session opens.
func Connected() Event {
	return Event{Type: EventConnection, Status: "connected"}
}

// processType maps the event to its durable status row, or "" for
// events with no durable footprint (the connection frame).
func (e Event) processType() string {
	switch e.Type {
	case EventUploadProgress, EventUploadCompleted, EventUploadFailed:
		return ProcessUpload
	case EventExtractionProgress, EventBatchCompleted, EventBatchWarning,
		EventExtractionRetry, EventExtractionCompleted, EventExtractionError:
		return ProcessExtraction
	}
	return ""
}

// status derives the Sink A row for this event. Returns nil when the
// event has no durable footprint.
func (e Event) status(tenantID string, now time.Time) *types.ProcessStatus {
	pt := e.processType()
	if pt == "" {
		return nil
	}
	st := &types.ProcessStatus{
		TenantID:    tenantID,
		ProcessType: pt,
		LastUpdate:  now,
		Message:     e.Message,
	}
	switch e.Type {
	case EventUploadProgress:
		st.State = "running"
		st.Stage = "uploading"
		st.Percentage = e.Percentage
		st.TotalItems = e.TotalRecords
		st.ProcessedItems = e.ProcessedRecords
		if st.Message == "" {
			st.Message = "Uploading " + e.FileName
		}
	case EventUploadCompleted:
		st.State = "completed"
		st.Stage = "completed"
		st.Percentage = 100
		end := now
		st.End = &end
		if e.Result != nil {
			st.ProcessedItems = e.Result.ProcessedRecords
			st.TotalItems = e.Result.ProcessedRecords
		}
		if st.Message == "" {
			st.Message = "Upload completed"
		}
	case EventUploadFailed:
		st.State = "failed"
		st.Stage = "failed"
		st.Error = e.Error
		end := now
		st.End = &end
		if st.Message == "" {
			st.Message = "Upload failed"
		}
	case EventExtractionProgress:
		st.State = "running"
		st.Stage = "extracting"
		st.Percentage = e.OverallProgress * 100
		st.TotalItems = e.TotalBatches
		st.ProcessedItems = e.Batch
	case EventBatchCompleted:
		st.State = "running"
		st.Stage = "extracting"
		st.Percentage = e.OverallProgress * 100
		st.TotalItems = e.TotalBatches
		st.ProcessedItems = e.Batch
	case EventBatchWarning:
		st.State = "running"
		st.Stage = "extracting"
	case EventExtractionRetry:
		st.State = "running"
		st.Stage = "retrying"
	case EventExtractionCompleted:
		st.State = "completed"
		st.Stage = "completed"
		st.Percentage = 100
		end := now
		st.End = &end
		if st.Message == "" {
			st.Message = "Extraction completed"
		}
	case EventExtractionError:
		st.State = "failed"
		st.Stage = "failed"
		st.Error = e.Message
		end := now
		st.End = &end
	}
	return st
}
