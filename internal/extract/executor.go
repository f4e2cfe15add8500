package extract

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notescan/notescan/internal/index"
	"github.com/notescan/notescan/internal/types"
)

// inlineThreshold is the note count below which chunking is skipped and
// extraction runs in the calling goroutine.
const inlineThreshold = 10

// minChunkSize is the floor the chunk size degrades to under memory
// pressure.
const minChunkSize = 100

// Config carries the tunable parameters of the chunk executor.
type Config struct {
	TargetChunkSize   int
	Concurrency       int
	Boost             bool
	ChunkTimeout      time.Duration
	JobTimeout        time.Duration
	MemorySoftLimitMB int
}

// DefaultConcurrency derives the base chunk parallelism from the CPU
// count: min(4, max(1, NumCPU-1)).
func DefaultConcurrency() int {
	c := runtime.NumCPU() - 1
	if c < 1 {
		c = 1
	}
	if c > 4 {
		c = 4
	}
	return c
}

// boostCap is the hard ceiling on worker count in boost mode.
const boostCap = 16

func (c Config) withDefaults() Config {
	if c.TargetChunkSize <= 0 {
		c.TargetChunkSize = 1000
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency()
	}
	if c.Boost {
		c.Concurrency *= 2
	}
	if c.Concurrency > boostCap {
		c.Concurrency = boostCap
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Hour
	}
	if c.MemorySoftLimitMB <= 0 {
		c.MemorySoftLimitMB = 8192
	}
	return c
}

// Progress is the cumulative snapshot passed to the progress callback
// after each chunk completes.
type Progress struct {
	ProcessedNotes int
	TotalNotes     int
	Mentions       int
}

// OnProgress receives cumulative progress. May be nil.
type OnProgress func(Progress)

// ChunkError records a chunk that contributed nothing.
type ChunkError struct {
	Chunk    int
	TimedOut bool
	Err      error
}

// Result aggregates executor output. Mentions concatenates per-chunk
// output in chunk-dispatch order; within a chunk, note-iteration order;
// per note, candidate-dispatch order.
type Result struct {
	Mentions       []*types.Mention
	ProcessedNotes int
	TotalNotes     int
	JobTimedOut    bool
	ChunkErrors    []ChunkError
}

// Executor shards a note batch and runs the per-note extractor across
// chunks with bounded concurrency, per-chunk timeouts, and
// memory-pressure backoff. The dictionary index is read-only and shared
// without locking.
type Executor struct {
	cfg    Config
	logger *zap.Logger

	// memSample is swappable for tests.
	memSample func() uint64
}

// NewExecutor returns an executor with cfg normalized to defaults.
func NewExecutor(cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		memSample: residentMemory,
	}
}

// residentMemory approximates resident usage from the Go heap and
// stacks. Good enough for a soft limit; there is no hard kill.
func residentMemory() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc + ms.StackInuse
}

type chunkOutput struct {
	mentions []*types.Mention
	notes    int
	err      *ChunkError
}

// Run extracts mentions from notes. A chunk that exceeds the chunk
// timeout contributes an empty result and is recorded as a chunk error;
// it never fails the run. When the job timeout elapses, no further
// chunks are dispatched and the partial result is returned with
// JobTimedOut set.
func (e *Executor) Run(ctx context.Context, notes []*types.Note, ix *index.Index, tenantID string, onProgress OnProgress) (*Result, error) {
	result := &Result{TotalNotes: len(notes)}
	if len(notes) == 0 {
		return result, nil
	}

	// Small batches skip chunking entirely.
	if len(notes) < inlineThreshold {
		for _, n := range notes {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Mentions = append(result.Mentions, ExtractNote(n, ix, tenantID)...)
			result.ProcessedNotes++
		}
		e.report(onProgress, result)
		return result, nil
	}

	chunkSize := e.cfg.TargetChunkSize
	deadline := time.Now().Add(e.cfg.JobTimeout)
	chunkIdx := 0
	remaining := notes

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if time.Now().After(deadline) {
			e.logger.Warn("job timeout reached, flushing partial results",
				zap.Int("processed_notes", result.ProcessedNotes),
				zap.Int("total_notes", result.TotalNotes))
			result.JobTimedOut = true
			break
		}

		concurrency := e.cfg.Concurrency
		softLimit := uint64(e.cfg.MemorySoftLimitMB) * 1024 * 1024
		if e.memSample() > softLimit {
			// Degrade: serialize the wave, hint the collector, and
			// shrink subsequent chunks.
			runtime.GC()
			concurrency = 1
			if chunkSize/2 >= minChunkSize {
				chunkSize /= 2
			}
			e.logger.Warn("memory soft limit exceeded, serializing wave",
				zap.Int("memory_soft_limit_mb", e.cfg.MemorySoftLimitMB),
				zap.Int("chunk_size", chunkSize))
		}

		// Carve one wave of chunks off the remaining notes.
		var wave [][]*types.Note
		for len(remaining) > 0 && len(wave) < concurrency {
			end := chunkSize
			if end > len(remaining) {
				end = len(remaining)
			}
			wave = append(wave, remaining[:end])
			remaining = remaining[end:]
		}

		outputs := make([]chunkOutput, len(wave))
		g, waveCtx := errgroup.WithContext(ctx)
		for i, chunk := range wave {
			i, chunk := i, chunk
			id := chunkIdx + i
			g.Go(func() error {
				outputs[i] = e.runChunk(waveCtx, id, chunk, ix, tenantID)
				return nil
			})
		}
		_ = g.Wait()

		// Fold wave results in dispatch order and report after each
		// chunk so progress is cumulative and monotone.
		for i, out := range outputs {
			if out.err != nil {
				out.err.Chunk = chunkIdx + i
				result.ChunkErrors = append(result.ChunkErrors, *out.err)
			}
			result.Mentions = append(result.Mentions, out.mentions...)
			result.ProcessedNotes += out.notes
			e.report(onProgress, result)
		}
		chunkIdx += len(wave)
	}

	return result, nil
}

// runChunk extracts one chunk under the chunk timeout. On expiry the
// partial output is discarded; the chunk reports a timeout error and
// the run continues.
func (e *Executor) runChunk(ctx context.Context, id int, chunk []*types.Note, ix *index.Index, tenantID string) chunkOutput {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ChunkTimeout)
	defer cancel()

	var mentions []*types.Mention
	for _, n := range chunk {
		select {
		case <-cctx.Done():
			e.logger.Warn("chunk timed out, discarding partial result",
				zap.Int("chunk", id),
				zap.Int("chunk_notes", len(chunk)),
				zap.Duration("chunk_timeout", e.cfg.ChunkTimeout))
			return chunkOutput{
				// Notes still count as processed so the job can finish;
				// their mentions are simply absent from this run.
				notes: len(chunk),
				err:   &ChunkError{TimedOut: true, Err: cctx.Err()},
			}
		default:
		}
		mentions = append(mentions, ExtractNote(n, ix, tenantID)...)
	}
	return chunkOutput{mentions: mentions, notes: len(chunk)}
}

func (e *Executor) report(onProgress OnProgress, r *Result) {
	if onProgress == nil {
		return
	}
	onProgress(Progress{
		ProcessedNotes: r.ProcessedNotes,
		TotalNotes:     r.TotalNotes,
		Mentions:       len(r.Mentions),
	})
}
