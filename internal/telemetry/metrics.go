package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pipeline bundles the engine's metric instruments. Instruments are
// created lazily against whatever meter provider Init installed, so a
// disabled setup pays only the no-op call cost.
type Pipeline struct {
	notesProcessed    metric.Int64Counter
	mentionsExtracted metric.Int64Counter
	rowsWritten       metric.Int64Counter
	jobsFinished      metric.Int64Counter
	batchDuration     metric.Float64Histogram
}

var (
	pipelineOnce sync.Once
	pipeline     *Pipeline
)

// Metrics returns the process-wide pipeline instruments.
func Metrics() *Pipeline {
	pipelineOnce.Do(func() {
		m := Meter("")
		notes, _ := m.Int64Counter("notescan.notes.processed",
			metric.WithDescription("Notes run through the extractor"))
		mentions, _ := m.Int64Counter("notescan.mentions.extracted",
			metric.WithDescription("Mentions persisted"))
		rows, _ := m.Int64Counter("notescan.storage.rows",
			metric.WithDescription("Rows handled by bulk inserts, by outcome"))
		finished, _ := m.Int64Counter("notescan.jobs.finished",
			metric.WithDescription("Jobs reaching a terminal state"))
		dur, _ := m.Float64Histogram("notescan.batch.duration",
			metric.WithDescription("Save-batch wall time"),
			metric.WithUnit("s"))
		pipeline = &Pipeline{
			notesProcessed:    notes,
			mentionsExtracted: mentions,
			rowsWritten:       rows,
			jobsFinished:      finished,
			batchDuration:     dur,
		}
	})
	return pipeline
}

// NotesProcessed records notes that completed extraction.
func (p *Pipeline) NotesProcessed(ctx context.Context, tenantID string, n int) {
	p.notesProcessed.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("tenant_id", tenantID)))
}

// MentionsExtracted records mentions persisted for a tenant.
func (p *Pipeline) MentionsExtracted(ctx context.Context, tenantID string, n int) {
	p.mentionsExtracted.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("tenant_id", tenantID)))
}

// RowsWritten records one bulk-insert outcome for a table.
func (p *Pipeline) RowsWritten(ctx context.Context, table string, inserted, skipped, failed int) {
	attrs := func(outcome string) metric.AddOption {
		return metric.WithAttributes(
			attribute.String("table", table),
			attribute.String("outcome", outcome))
	}
	if inserted > 0 {
		p.rowsWritten.Add(ctx, int64(inserted), attrs("inserted"))
	}
	if skipped > 0 {
		p.rowsWritten.Add(ctx, int64(skipped), attrs("skipped"))
	}
	if failed > 0 {
		p.rowsWritten.Add(ctx, int64(failed), attrs("failed"))
	}
}

// JobFinished records a job reaching a terminal state.
func (p *Pipeline) JobFinished(ctx context.Context, kind, state string) {
	p.jobsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("state", state)))
}

// BatchDuration records one save-batch's wall time in seconds.
func (p *Pipeline) BatchDuration(ctx context.Context, tenantID string, seconds float64) {
	p.batchDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("tenant_id", tenantID)))
}
