// Package storage provides shared types for the persistence gateway.
//
// The concrete implementation lives in the sqlite sub-package. This
// package holds the interface and value types referenced by both the
// implementation and its consumers (jobs, dictionary, recovery, server).
package storage

import (
	"context"
	"errors"

	"github.com/notescan/notescan/internal/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDictionaryUnavailable is returned when neither the store nor the
// seed file can supply a dictionary. Extraction must not retry on it.
var ErrDictionaryUnavailable = errors.New("dictionary unavailable")

// BatchResult reports the outcome of one bulk write. Conflict skips are
// not errors; row-level failures are recorded but never abort the
// pipeline.
type BatchResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Add accumulates another batch outcome into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Inserted += other.Inserted
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// Attempted returns the total number of rows the batch tried to write.
func (r BatchResult) Attempted() int {
	return r.Inserted + r.Skipped + r.Failed
}

// PatientMentionCount is one row of the risk-stratification aggregate:
// how many distinct segments were detected for a patient.
type PatientMentionCount struct {
	PatientID            string `json:"patient_id"`
	DistinctSegmentCount int    `json:"distinct_segment_count"`
}

// EntityCounts is the per-tenant row census across core tables.
type EntityCounts struct {
	Patients   int `json:"patients"`
	Notes      int `json:"notes"`
	Dictionary int `json:"dictionary"`
	Mentions   int `json:"mentions"`
}

// Store is the persistence gateway. All bulk writes are idempotent:
// conflicts on the per-entity uniqueness keys are skipped and counted,
// never treated as failures.
type Store interface {
	// Bulk writes (two-tier: multi-row insert, per-row fallback).
	InsertPatients(ctx context.Context, tenantID string, patients []*types.Patient) (BatchResult, error)
	InsertNotes(ctx context.Context, tenantID string, notes []*types.Note) (BatchResult, error)
	InsertDictionary(ctx context.Context, tenantID string, entries []*types.DictionaryEntry) (BatchResult, error)
	InsertMentions(ctx context.Context, tenantID string, mentions []*types.Mention) (BatchResult, error)

	// Reads.
	ListNotes(ctx context.Context, tenantID string, limit, offset int) ([]*types.Note, error)
	ListNotesWithoutMentions(ctx context.Context, tenantID string) ([]*types.Note, error)
	ListDictionary(ctx context.Context, tenantID string) ([]*types.DictionaryEntry, error)
	ListMentionsByPatient(ctx context.Context, tenantID, patientID string) ([]*types.Mention, error)
	ListMentionsByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*types.Mention, error)
	CountEntities(ctx context.Context, tenantID string) (EntityCounts, error)
	MentionsPerPatient(ctx context.Context, tenantID string) ([]PatientMentionCount, error)

	// Process status (Sink A of the progress bus).
	UpsertProcessStatus(ctx context.Context, status *types.ProcessStatus) error
	GetProcessStatus(ctx context.Context, tenantID, processType string) (*types.ProcessStatus, error)

	// Job mirroring and upload tracking.
	SaveJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListJobs(ctx context.Context, tenantID string) ([]*types.Job, error)
	SaveUploadRecord(ctx context.Context, rec *types.UploadRecord) error
	ListUploadRecords(ctx context.Context, tenantID string) ([]*types.UploadRecord, error)

	// Recovery operations.
	ClearMentions(ctx context.Context, tenantID string) (int64, error)
	PurgeTenant(ctx context.Context, tenantID string) error

	// Lifecycle.
	Close() error
}
