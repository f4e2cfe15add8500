package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/extract"
	"github.com/notescan/notescan/internal/index"
	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/telemetry"
	"github.com/notescan/notescan/internal/types"
)

// runExtraction drives the attempt loop. Each attempt restarts from the
// store's candidate query, so notes saved by an earlier attempt are not
// reprocessed.
func (m *Manager) runExtraction(ctx context.Context, job *types.Job) error {
	cfg := m.config()
	bo := newRetryBackoff()

	// One deadline for the whole job, spanning every save-batch and
	// retry. On expiry the job stops dispatching and completes with
	// whatever the saved batches already hold.
	var deadline time.Time
	if cfg.Extract.JobTimeout > 0 {
		deadline = m.now().Add(cfg.Extract.JobTimeout)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := m.extractionAttempt(ctx, cfg, deadline, job)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cause, perm := isPermanent(err); perm {
			m.publishExtractionError(ctx, job, cause)
			return cause
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}
		wait := bo.NextBackOff()
		m.logger.Warn("extraction attempt failed, retrying",
			zap.String("job_id", job.ID),
			zap.String("tenant_id", job.TenantID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
			Type:       progress.EventExtractionRetry,
			JobID:      job.ID,
			Attempt:    attempt,
			MaxRetries: cfg.MaxRetries,
			WaitMS:     wait.Milliseconds(),
			Message:    fmt.Sprintf("Attempt %d of %d failed; retrying in %s", attempt, cfg.MaxRetries, wait),
			Error:      err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	m.publishExtractionError(ctx, job, lastErr)
	return fmt.Errorf("extraction failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// extractionAttempt runs one full pass: load dictionary, find notes
// without mentions, extract in save-batches, persist each batch before
// the next starts.
func (m *Manager) extractionAttempt(ctx context.Context, cfg Config, deadline time.Time, job *types.Job) error {
	entries, err := m.loader.Load(ctx, job.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrDictionaryUnavailable) {
			return permanent(err)
		}
		return err
	}
	ix := index.Build(entries)

	notes, err := m.store.ListNotesWithoutMentions(ctx, job.TenantID)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		job.Progress.Percentage = 100
		m.updateProgress(job)
		_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
			Type:    progress.EventExtractionCompleted,
			JobID:   job.ID,
			Message: "All notes already processed",
		})
		return nil
	}

	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.SaveBatchSize
	}
	totalBatches := (len(notes) + batchSize - 1) / batchSize

	job.Progress.Total = len(notes)

	var (
		processedNotes int
		mentionsSaved  int
	)
	for batch := 0; batch < totalBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Give the executor the time the job has left, not a fresh
		// window per batch, so a mid-batch expiry surfaces as
		// JobTimedOut instead of a batch-context error.
		execCfg := cfg.Extract
		if !deadline.IsZero() {
			remaining := deadline.Sub(m.now())
			if remaining <= 0 {
				return m.finishTimedOut(ctx, job, mentionsSaved, processedNotes, len(notes))
			}
			execCfg.JobTimeout = remaining
		}
		executor := extract.NewExecutor(execCfg, m.logger)

		lo := batch * batchSize
		hi := lo + batchSize
		if hi > len(notes) {
			hi = len(notes)
		}
		batchNotes := notes[lo:hi]
		batchStart := m.now()

		bctx, cancel := context.WithTimeout(ctx, cfg.BatchTimeout)
		res, err := executor.Run(bctx, batchNotes, ix, job.TenantID, func(p extract.Progress) {
			overall := (float64(batch) + float64(p.ProcessedNotes)/float64(len(batchNotes))) / float64(totalBatches)
			_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
				Type:            progress.EventExtractionProgress,
				JobID:           job.ID,
				Batch:           batch + 1,
				TotalBatches:    totalBatches,
				BatchProgress:   float64(p.ProcessedNotes) / float64(len(batchNotes)),
				OverallProgress: overall,
				MentionsFound:   mentionsSaved + p.Mentions,
			})
		})
		cancel()
		if err != nil {
			return fmt.Errorf("batch %d failed: %w", batch+1, err)
		}

		br, err := m.store.InsertMentions(ctx, job.TenantID, res.Mentions)
		if err != nil {
			return fmt.Errorf("failed to save batch %d mentions: %w", batch+1, err)
		}
		mentionsSaved += br.Inserted
		processedNotes += res.ProcessedNotes

		metrics := telemetry.Metrics()
		metrics.NotesProcessed(ctx, job.TenantID, res.ProcessedNotes)
		metrics.MentionsExtracted(ctx, job.TenantID, br.Inserted)
		metrics.BatchDuration(ctx, job.TenantID, m.now().Sub(batchStart).Seconds())

		if len(res.ChunkErrors) > 0 || br.Failed > 0 || res.JobTimedOut {
			_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
				Type:         progress.EventBatchWarning,
				JobID:        job.ID,
				Batch:        batch + 1,
				TotalBatches: totalBatches,
				Message: fmt.Sprintf("batch finished with %d chunk errors, %d failed rows",
					len(res.ChunkErrors), br.Failed),
			})
		}

		overall := float64(batch+1) / float64(totalBatches)
		job.Progress.Processed = processedNotes
		job.Progress.Percentage = overall * 100
		m.updateProgress(job)
		_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
			Type:            progress.EventBatchCompleted,
			JobID:           job.ID,
			Batch:           batch + 1,
			TotalBatches:    totalBatches,
			BatchProgress:   1,
			OverallProgress: overall,
			MentionsFound:   mentionsSaved,
		})

		if res.JobTimedOut {
			return m.finishTimedOut(ctx, job, mentionsSaved, processedNotes, len(notes))
		}

		if job.DelayMS > 0 && batch+1 < totalBatches {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(job.DelayMS) * time.Millisecond):
			}
		}
	}

	job.Progress.Percentage = 100
	m.updateProgress(job)
	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:          progress.EventExtractionCompleted,
		JobID:         job.ID,
		MentionsFound: mentionsSaved,
		Message:       fmt.Sprintf("Extracted %d mentions from %d notes", mentionsSaved, processedNotes),
	})

	m.logger.Info("extraction completed",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.Int("notes", processedNotes),
		zap.Int("mentions", mentionsSaved))
	return nil
}

// finishTimedOut ends the job cleanly when the job deadline has passed:
// batches already saved stand, nothing further is dispatched, and the
// job completes rather than failing.
func (m *Manager) finishTimedOut(ctx context.Context, job *types.Job, saved, processed, total int) error {
	m.updateProgress(job)
	m.logger.Warn("extraction hit the job timeout, completing with partial results",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.Int("processed_notes", processed),
		zap.Int("total_notes", total),
		zap.Int("mentions_saved", saved))
	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:          progress.EventExtractionCompleted,
		JobID:         job.ID,
		MentionsFound: saved,
		Message: fmt.Sprintf("Job timeout reached; saved %d mentions from %d of %d notes",
			saved, processed, total),
	})
	return nil
}

func (m *Manager) publishExtractionError(ctx context.Context, job *types.Job, err error) {
	_ = m.bus.Publish(ctx, job.TenantID, progress.Event{
		Type:    progress.EventExtractionError,
		JobID:   job.ID,
		Message: err.Error(),
	})
}
