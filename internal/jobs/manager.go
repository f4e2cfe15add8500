// Package jobs runs background upload and extraction jobs under a
// global concurrency cap, with retry, auto-chaining, and progress
// reporting through the progress bus.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notescan/notescan/internal/dictionary"
	"github.com/notescan/notescan/internal/extract"
	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/telemetry"
	"github.com/notescan/notescan/internal/types"
	"github.com/notescan/notescan/internal/uploader"
)

// Config carries the manager's tunables. Zero values take defaults.
type Config struct {
	MaxConcurrentJobs int
	MaxRetries        int
	SaveBatchSize     int
	BatchTimeout      time.Duration
	CleanupAge        time.Duration
	CleanupInterval   time.Duration
	Extract           extract.Config
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SaveBatchSize <= 0 {
		c.SaveBatchSize = 400
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Minute
	}
	if c.CleanupAge <= 0 {
		c.CleanupAge = 24 * time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return c
}

// Manager owns the in-process job registry and the scheduler that keeps
// at most MaxConcurrentJobs jobs running. Upload and extraction jobs
// share one slot pool; the cap is global, not per-kind.
type Manager struct {
	cfg    Config
	store  storage.Store
	bus    *progress.Bus
	loader *dictionary.Loader
	opener uploader.Opener
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	jobs    map[string]*types.Job
	queue   []string // queued job IDs, FIFO
	running int

	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	shutdown bool
}

// NewManager wires the manager. opener may be nil, in which case CSV
// uploads are assumed.
func NewManager(cfg Config, store storage.Store, bus *progress.Bus, loader *dictionary.Loader, opener uploader.Opener, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = uploader.DefaultOpener
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		store:  store,
		bus:    bus,
		loader: loader,
		opener: opener,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*types.Job),
		wake:   make(chan struct{}, 1),
	}
}

// Start launches the scheduler and cleanup loops. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	m.wg.Add(2)
	go m.schedulerLoop()
	go m.cleanupLoop()
}

// Shutdown stops accepting work and waits for running jobs to finish,
// bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueUpload creates a queued upload job and returns its ID.
func (m *Manager) EnqueueUpload(tenantID, filePath, fileName string) (string, error) {
	job := &types.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      types.JobUpload,
		State:     types.JobQueued,
		CreatedAt: m.now().UTC(),
		FileName:  fileName,
		FilePath:  filePath,
	}
	return m.enqueue(job)
}

// EnqueueExtraction creates a queued extraction job. batchSize and
// delayMS of 0 take configured defaults.
func (m *Manager) EnqueueExtraction(tenantID string, batchSize, delayMS int) (string, error) {
	if batchSize <= 0 {
		batchSize = m.config().SaveBatchSize
	}
	job := &types.Job{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      types.JobExtraction,
		State:     types.JobQueued,
		CreatedAt: m.now().UTC(),
		BatchSize: batchSize,
		DelayMS:   delayMS,
	}
	return m.enqueue(job)
}

func (m *Manager) enqueue(job *types.Job) (string, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return "", context.Canceled
	}
	m.jobs[job.ID] = job
	m.queue = append(m.queue, job.ID)
	m.mu.Unlock()

	m.persist(job)
	m.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", job.TenantID),
		zap.String("kind", string(job.Kind)))
	m.poke()
	return job.ID, nil
}

// GetJob returns a copy of the job, registry first, store as fallback
// for jobs from earlier process lifetimes.
func (m *Manager) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok {
		cp := job.Clone()
		m.mu.Unlock()
		return cp, nil
	}
	m.mu.Unlock()

	return m.store.GetJob(ctx, id)
}

// Cancel cancels a queued job. Running jobs cannot be cancelled in this
// version; the call reports false. Unknown and terminal jobs also
// report false.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.State != types.JobQueued {
		m.mu.Unlock()
		return false
	}
	job.State = types.JobCancelled
	ended := m.now().UTC()
	job.EndedAt = &ended
	for i, queued := range m.queue {
		if queued == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	cp := job.Clone()
	m.mu.Unlock()

	m.persist(cp)
	m.logger.Info("job cancelled", zap.String("job_id", id))
	return true
}

// RunningCount reports jobs currently holding a slot.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// config returns a snapshot of the current tunables.
func (m *Manager) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfig swaps the tunables for jobs started after this call.
// Jobs already running keep the snapshot they started with.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
	m.poke()
}

// poke nudges the scheduler without blocking.
func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
		}
		m.dispatch()
	}
}

// dispatch starts queued jobs while slots are free, oldest first.
func (m *Manager) dispatch() {
	for {
		m.mu.Lock()
		if m.running >= m.cfg.MaxConcurrentJobs || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		id := m.queue[0]
		m.queue = m.queue[1:]
		job, ok := m.jobs[id]
		if !ok || job.State != types.JobQueued {
			m.mu.Unlock()
			continue
		}
		job.State = types.JobRunning
		started := m.now().UTC()
		job.StartedAt = &started
		m.running++
		cp := job.Clone()
		m.mu.Unlock()

		m.persist(cp)
		m.wg.Add(1)
		go m.runJob(id)
	}
}

func (m *Manager) runJob(id string) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.running--
		m.mu.Unlock()
		m.poke()
	}()

	m.mu.Lock()
	job := m.jobs[id]
	kind := job.Kind
	cp := job.Clone()
	m.mu.Unlock()

	var err error
	switch kind {
	case types.JobUpload:
		err = m.runUpload(m.ctx, cp)
	case types.JobExtraction:
		err = m.runExtraction(m.ctx, cp)
	}

	ended := m.now().UTC()
	m.mu.Lock()
	job = m.jobs[id]
	job.Progress = cp.Progress
	job.EndedAt = &ended
	if err != nil {
		job.State = types.JobFailed
		job.Error = err.Error()
	} else {
		job.State = types.JobCompleted
	}
	final := job.Clone()
	m.mu.Unlock()

	m.persist(final)
	telemetry.Metrics().JobFinished(m.ctx, string(kind), string(final.State))
	if err != nil {
		m.logger.Error("job failed",
			zap.String("job_id", id),
			zap.String("kind", string(kind)),
			zap.Error(err))
	} else {
		m.logger.Info("job completed",
			zap.String("job_id", id),
			zap.String("kind", string(kind)))
	}
}

// updateProgress copies the runner's progress into the registry and
// mirrors it to the store.
func (m *Manager) updateProgress(job *types.Job) {
	m.mu.Lock()
	if reg, ok := m.jobs[job.ID]; ok {
		reg.Progress = job.Progress
	}
	m.mu.Unlock()
	m.persist(job)
}

// persist mirrors a job row write-through; failures are logged, never
// fatal, because the registry is the in-process source of truth.
func (m *Manager) persist(job *types.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveJob(ctx, job); err != nil {
		m.logger.Warn("job write-through failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config().CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupOnce()
		}
	}
}

// cleanupOnce drops terminal jobs older than CleanupAge from the
// registry. Store rows are kept as history.
func (m *Manager) cleanupOnce() {
	cutoff := m.now().UTC().Add(-m.cfg.CleanupAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if job.State.Terminal() && job.EndedAt != nil && job.EndedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
