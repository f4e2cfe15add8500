package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

// SaveJob mirrors a job record from the in-process registry. Called on
// every state transition; the registry remains the source of truth
// while the process lives, this table is history for GET /jobs.
func (s *Store) SaveJob(ctx context.Context, job *types.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, tenant_id, kind, state, created_at, started_at, ended_at,
			processed, total, rate_per_sec, eta_sec, percentage, error, file_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			processed = excluded.processed,
			total = excluded.total,
			rate_per_sec = excluded.rate_per_sec,
			eta_sec = excluded.eta_sec,
			percentage = excluded.percentage,
			error = excluded.error
	`,
		job.ID, job.TenantID, string(job.Kind), string(job.State),
		job.CreatedAt, nullTime(job.StartedAt), nullTime(job.EndedAt),
		job.Progress.Processed, job.Progress.Total, job.Progress.RatePerSec,
		job.Progress.ETASec, job.Progress.Percentage, job.Error, job.FileName,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

const jobColumns = `job_id, tenant_id, kind, state, created_at, started_at, ended_at,
	processed, total, rate_per_sec, eta_sec, percentage, error, file_name`

// GetJob returns one job row, storage.ErrNotFound when absent.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// ListJobs returns the tenant's jobs, most recently started first.
func (s *Store) ListJobs(ctx context.Context, tenantID string) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs WHERE tenant_id = ?
		ORDER BY COALESCE(started_at, created_at) DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	j := &types.Job{}
	var kind, state string
	var started, ended sql.NullTime
	if err := row.Scan(&j.ID, &j.TenantID, &kind, &state, &j.CreatedAt,
		&started, &ended, &j.Progress.Processed, &j.Progress.Total,
		&j.Progress.RatePerSec, &j.Progress.ETASec, &j.Progress.Percentage,
		&j.Error, &j.FileName); err != nil {
		return nil, err
	}
	j.Kind = types.JobKind(kind)
	j.State = types.JobState(state)
	j.StartedAt = timePtr(started)
	j.EndedAt = timePtr(ended)
	return j, nil
}

// SaveUploadRecord persists one completed upload for audit.
func (s *Store) SaveUploadRecord(ctx context.Context, rec *types.UploadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_tracking (
			upload_id, tenant_id, file_name, processed_records,
			new_patients, new_notes, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(upload_id) DO NOTHING
	`,
		rec.UploadID, rec.TenantID, rec.FileName, rec.ProcessedRecords,
		rec.NewPatients, rec.NewNotes, rec.StartedAt, rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save upload record: %w", err)
	}
	return nil
}

// ListUploadRecords returns the tenant's uploads, most recent first.
func (s *Store) ListUploadRecords(ctx context.Context, tenantID string) ([]*types.UploadRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT upload_id, tenant_id, file_name, processed_records,
		       new_patients, new_notes, started_at, ended_at
		FROM upload_tracking WHERE tenant_id = ? ORDER BY started_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list upload records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.UploadRecord
	for rows.Next() {
		r := &types.UploadRecord{}
		if err := rows.Scan(&r.UploadID, &r.TenantID, &r.FileName, &r.ProcessedRecords,
			&r.NewPatients, &r.NewNotes, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
