package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/types"
)

// uploadFlushSize is how many rows accumulate before a bulk write and a
// progress event.
const uploadFlushSize = 500

// runUpload streams the uploaded file into the store in batches and
// chains an extraction job when the ingest succeeds.
func (m *Manager) runUpload(ctx context.Context, job *types.Job) error {
	start := m.now()

	source, err := m.opener.Open(job.FilePath, job.TenantID)
	if err != nil {
		m.publishUploadFailed(ctx, job, err)
		return err
	}
	defer func() {
		_ = source.Close()
		if job.FilePath != "" {
			_ = os.Remove(job.FilePath)
		}
	}()

	total := source.Total()
	job.Progress.Total = total

	var (
		patients     []*types.Patient
		notes        []*types.Note
		seenPatients = make(map[string]struct{})
		totals       struct {
			processed   int
			newPatients int
			newNotes    int
		}
	)

	flush := func() error {
		if len(patients) > 0 {
			br, err := m.store.InsertPatients(ctx, job.TenantID, patients)
			if err != nil {
				return fmt.Errorf("failed to insert patients: %w", err)
			}
			totals.newPatients += br.Inserted
			patients = patients[:0]
		}
		if len(notes) > 0 {
			br, err := m.store.InsertNotes(ctx, job.TenantID, notes)
			if err != nil {
				return fmt.Errorf("failed to insert notes: %w", err)
			}
			totals.newNotes += br.Inserted
			notes = notes[:0]
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			m.publishUploadFailed(ctx, job, err)
			return err
		}
		rec, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			m.publishUploadFailed(ctx, job, err)
			return err
		}

		if _, seen := seenPatients[rec.Patient.PatientID]; !seen {
			seenPatients[rec.Patient.PatientID] = struct{}{}
			p := rec.Patient
			patients = append(patients, &p)
		}
		n := rec.Note
		notes = append(notes, &n)
		totals.processed++

		if len(notes) >= uploadFlushSize {
			if err := flush(); err != nil {
				m.publishUploadFailed(ctx, job, err)
				return err
			}
			m.publishUploadProgress(ctx, job, totals.processed, total, start)
		}
	}
	if err := flush(); err != nil {
		m.publishUploadFailed(ctx, job, err)
		return err
	}

	if skipped := source.Skipped(); skipped > 0 {
		m.logger.Warn("upload rows skipped",
			zap.String("job_id", job.ID),
			zap.String("tenant_id", job.TenantID),
			zap.Int("skipped", skipped))
	}

	ended := m.now()
	job.Progress.Processed = totals.processed
	job.Progress.Percentage = 100
	m.updateProgress(job)

	rec := &types.UploadRecord{
		UploadID:         job.ID,
		TenantID:         job.TenantID,
		FileName:         job.FileName,
		ProcessedRecords: totals.processed,
		NewPatients:      totals.newPatients,
		NewNotes:         totals.newNotes,
		StartedAt:        start.UTC(),
		EndedAt:          ended.UTC(),
	}
	if err := m.store.SaveUploadRecord(ctx, rec); err != nil {
		m.logger.Warn("upload record save failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:     progress.EventUploadCompleted,
		JobID:    job.ID,
		FileName: job.FileName,
		Result: &progress.UploadResult{
			ProcessedRecords: totals.processed,
			NewPatients:      totals.newPatients,
			NewNotes:         totals.newNotes,
			DurationSec:      ended.Sub(start).Seconds(),
		},
	})

	if totals.newNotes > 0 {
		m.chainExtraction(ctx, job)
	} else {
		m.logger.Info("no new notes ingested, skipping extraction chain",
			zap.String("job_id", job.ID),
			zap.String("tenant_id", job.TenantID))
	}
	return nil
}

// chainExtraction queues the follow-on extraction. An enqueue failure
// downgrades to a warning; the upload itself already succeeded.
func (m *Manager) chainExtraction(ctx context.Context, job *types.Job) {
	extID, err := m.EnqueueExtraction(job.TenantID, 0, 0)
	if err != nil {
		m.logger.Warn("failed to chain extraction after upload",
			zap.String("job_id", job.ID),
			zap.String("tenant_id", job.TenantID),
			zap.Error(err))
		_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
			Type:    progress.EventBatchWarning,
			JobID:   job.ID,
			Message: "upload completed but extraction could not be queued",
			Error:   err.Error(),
		})
		return
	}
	m.logger.Info("extraction chained after upload",
		zap.String("upload_job_id", job.ID),
		zap.String("extraction_job_id", extID),
		zap.String("tenant_id", job.TenantID))
}

func (m *Manager) publishUploadProgress(ctx context.Context, job *types.Job, processed, total int, start time.Time) {
	elapsed := m.now().Sub(start).Seconds()
	var rate, eta, pct float64
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	if total > 0 {
		pct = float64(processed) / float64(total) * 100
		if rate > 0 {
			eta = float64(total-processed) / rate
		}
	}

	job.Progress = types.JobProgress{
		Processed:  processed,
		Total:      total,
		RatePerSec: rate,
		ETASec:     eta,
		Percentage: pct,
	}
	m.updateProgress(job)

	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:             progress.EventUploadProgress,
		JobID:            job.ID,
		FileName:         job.FileName,
		ProcessedRecords: processed,
		TotalRecords:     total,
		Rate:             rate,
		ETASec:           eta,
		Percentage:       pct,
	})
}

func (m *Manager) publishUploadFailed(ctx context.Context, job *types.Job, err error) {
	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:     progress.EventUploadFailed,
		JobID:    job.ID,
		FileName: job.FileName,
		Error:    err.Error(),
	})
}
