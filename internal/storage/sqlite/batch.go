package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/telemetry"
)

// Default batch sizes per entity. SQLite's bound-parameter ceiling is
// 32766; the widest table (mentions, 28 columns) stays under it at 1000
// rows per statement.
const (
	patientsBatchSize   = 1000
	notesBatchSize      = 1000
	dictionaryBatchSize = 500
	mentionsBatchSize   = 1000
)

// batchRetries is the number of additional attempts for a transient
// batch failure before it escalates to the caller.
const batchRetries = 2

// tableSpec describes how one entity maps onto its table.
type tableSpec struct {
	table    string
	columns  []string
	conflict string // comma-separated uniqueness key columns
}

func (t tableSpec) insertSQL(rows int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ") + ")"
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.table)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.columns, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(one)
	}
	b.WriteString(" ON CONFLICT(")
	b.WriteString(t.conflict)
	b.WriteString(") DO NOTHING")
	return b.String()
}

func newBatchBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return bo
}

// insertRows writes rows in chunks of batchSize using a single
// multi-row INSERT ... ON CONFLICT DO NOTHING per chunk. Transient
// errors retry up to batchRetries times with exponential backoff and
// then escalate. Any other batch error triggers the per-row fallback so
// one malformed row cannot poison the chunk.
func (s *Store) insertRows(ctx context.Context, spec tableSpec, rows [][]any, batchSize int) (storage.BatchResult, error) {
	var total storage.BatchResult
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		res, err := s.insertChunk(ctx, spec, rows[start:end])
		total.Add(res)
		if err != nil {
			return total, err
		}
	}
	telemetry.Metrics().RowsWritten(ctx, spec.table, total.Inserted, total.Skipped, total.Failed)
	return total, nil
}

func (s *Store) insertChunk(ctx context.Context, spec tableSpec, rows [][]any) (storage.BatchResult, error) {
	if len(rows) == 0 {
		return storage.BatchResult{}, nil
	}

	query := spec.insertSQL(len(rows))
	args := make([]any, 0, len(rows)*len(spec.columns))
	for _, row := range rows {
		args = append(args, row...)
	}

	var inserted int64
	err := backoff.Retry(func() error {
		res, execErr := s.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			if isTransient(execErr) {
				return execErr
			}
			return backoff.Permanent(execErr)
		}
		inserted, _ = res.RowsAffected()
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(newBatchBackoff(), batchRetries), ctx))

	if err == nil {
		return storage.BatchResult{
			Inserted: int(inserted),
			Skipped:  len(rows) - int(inserted),
		}, nil
	}
	if isTransient(err) || ctx.Err() != nil {
		return storage.BatchResult{}, fmt.Errorf("batch insert into %s: %w", spec.table, err)
	}

	// Structural batch failure: fall back to per-row inserts with the
	// same conflict clause and count row-level failures.
	return s.insertRowByRow(ctx, spec, rows)
}

func (s *Store) insertRowByRow(ctx context.Context, spec tableSpec, rows [][]any) (storage.BatchResult, error) {
	query := spec.insertSQL(1)
	var result storage.BatchResult
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("row insert into %s: %w", spec.table, err)
		}
		res, err := s.db.ExecContext(ctx, query, row...)
		if err != nil {
			if isUniqueConstraint(err) {
				result.Skipped++
				continue
			}
			result.Failed++
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.Inserted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}
