package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notescan/notescan/internal/dictionary"
	"github.com/notescan/notescan/internal/extract"
	"github.com/notescan/notescan/internal/progress"
	"github.com/notescan/notescan/internal/storage/sqlite"
	"github.com/notescan/notescan/internal/types"
	"github.com/notescan/notescan/internal/uploader"
)

const testSeed = `symptom_id,segment,kind,hrsn_code,hrsn_mapping
s1,fever,Symptom,,
s2,chest pain,Symptom,,
z1,homeless,Problem,Z59.0,housing_status
`

const testUpload = `patient_id,date_of_service,text
p1,2024-03-01,patient reports fever and chest pain
p2,2024-03-01,patient is homeless
p3,2024-03-02,unremarkable visit
`

type testEnv struct {
	store   *sqlite.Store
	bus     *progress.Bus
	manager *Manager
}

func newTestEnv(t *testing.T, cfg Config, opener uploader.Opener) *testEnv {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := progress.NewBus(store, nil)
	t.Cleanup(bus.Close)

	seedPath := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o644))
	loader := dictionary.NewLoader(store, seedPath, nil)

	m := NewManager(cfg, store, bus, loader, opener, nil)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &testEnv{store: store, bus: bus, manager: m}
}

func writeUploadFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func waitForState(t *testing.T, m *Manager, jobID string, want types.JobState) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		return job.State == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func TestUploadJobEndToEnd(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	tn := "tenant-" + t.Name()

	path := writeUploadFile(t, testUpload)
	jobID, err := env.manager.EnqueueUpload(tn, path, "upload.csv")
	require.NoError(t, err)

	job := waitForState(t, env.manager, jobID, types.JobCompleted)
	assert.Empty(t, job.Error)

	ctx := context.Background()
	counts, err := env.store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Patients)
	assert.Equal(t, 3, counts.Notes)

	records, err := env.store.ListUploadRecords(ctx, tn)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].ProcessedRecords)
	assert.Equal(t, 3, records[0].NewPatients)

	// The upload consumed its temp file.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Extraction chains automatically and finds the seeded segments.
	require.Eventually(t, func() bool {
		c, err := env.store.CountEntities(ctx, tn)
		return err == nil && c.Mentions >= 3
	}, 10*time.Second, 10*time.Millisecond)

	perPatient, err := env.store.MentionsPerPatient(ctx, tn)
	require.NoError(t, err)
	assert.Len(t, perPatient, 2) // p3 has no matching segments
}

func TestExtractionJobIdempotentRerun(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	tn := "tenant-" + t.Name()
	ctx := context.Background()

	_, err := env.store.InsertNotes(ctx, tn, []*types.Note{
		{PatientID: "p1", DateOfService: "2024-03-01", Text: "fever again"},
	})
	require.NoError(t, err)

	first, err := env.manager.EnqueueExtraction(tn, 0, 0)
	require.NoError(t, err)
	waitForState(t, env.manager, first, types.JobCompleted)

	counts, err := env.store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Mentions)

	// Second run finds no candidates and completes without new rows.
	second, err := env.manager.EnqueueExtraction(tn, 0, 0)
	require.NoError(t, err)
	waitForState(t, env.manager, second, types.JobCompleted)

	counts, err = env.store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Mentions)

	st, err := env.store.GetProcessStatus(ctx, tn, progress.ProcessExtraction)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.State)
	assert.Equal(t, 100.0, st.Percentage)
}

// gatedSource blocks Next until released, for scheduler tests.
type gatedSource struct {
	gate <-chan struct{}
}

func (g *gatedSource) Total() int   { return 0 }
func (g *gatedSource) Skipped() int { return 0 }
func (g *gatedSource) Close() error { return nil }
func (g *gatedSource) Next() (*uploader.Record, error) {
	<-g.gate
	return nil, io.EOF
}

func TestConcurrencyCap(t *testing.T) {
	gate := make(chan struct{})
	opener := uploader.OpenerFunc(func(_, _ string) (uploader.Source, error) {
		return &gatedSource{gate: gate}, nil
	})
	env := newTestEnv(t, Config{MaxConcurrentJobs: 1}, opener)
	tn := "tenant-" + t.Name()

	first, err := env.manager.EnqueueUpload(tn, "a", "a.csv")
	require.NoError(t, err)
	second, err := env.manager.EnqueueUpload(tn, "b", "b.csv")
	require.NoError(t, err)

	waitForState(t, env.manager, first, types.JobRunning)
	assert.Equal(t, 1, env.manager.RunningCount())

	// The second job stays queued while the slot is held.
	job, err := env.manager.GetJob(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, job.State)

	close(gate)
	waitForState(t, env.manager, first, types.JobCompleted)
	waitForState(t, env.manager, second, types.JobCompleted)
}

func TestCancelQueuedJob(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	opener := uploader.OpenerFunc(func(_, _ string) (uploader.Source, error) {
		return &gatedSource{gate: gate}, nil
	})
	env := newTestEnv(t, Config{MaxConcurrentJobs: 1}, opener)
	tn := "tenant-" + t.Name()

	running, err := env.manager.EnqueueUpload(tn, "a", "a.csv")
	require.NoError(t, err)
	queued, err := env.manager.EnqueueUpload(tn, "b", "b.csv")
	require.NoError(t, err)

	waitForState(t, env.manager, running, types.JobRunning)

	assert.True(t, env.manager.Cancel(queued))
	job, err := env.manager.GetJob(context.Background(), queued)
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, job.State)

	// Running and unknown jobs cannot be cancelled.
	assert.False(t, env.manager.Cancel(running))
	assert.False(t, env.manager.Cancel("missing"))
	// Terminal jobs cannot be cancelled again.
	assert.False(t, env.manager.Cancel(queued))
}

func TestExtractionFailsFastWithoutDictionary(t *testing.T) {
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	bus := progress.NewBus(store, nil)
	t.Cleanup(bus.Close)

	// Loader points at a seed that does not exist.
	loader := dictionary.NewLoader(store, filepath.Join(t.TempDir(), "missing.csv"), nil)
	m := NewManager(Config{}, store, bus, loader, nil, nil)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	tn := "tenant-" + t.Name()
	_, err = store.InsertNotes(context.Background(), tn, []*types.Note{
		{PatientID: "p1", DateOfService: "2024-03-01", Text: "fever"},
	})
	require.NoError(t, err)

	jobID, err := m.EnqueueExtraction(tn, 0, 0)
	require.NoError(t, err)

	// Permanent failure: no retries, so this terminates well before the
	// first 2s retry wait would have elapsed.
	start := time.Now()
	job := waitForState(t, m, jobID, types.JobFailed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, job.Error, "dictionary unavailable")
}

func TestUploadWithoutNewNotesSkipsChaining(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	tn := "tenant-" + t.Name()
	ctx := context.Background()

	// Pre-existing rows make the upload a pure replay.
	_, err := env.store.InsertNotes(ctx, tn, []*types.Note{
		{PatientID: "p1", DateOfService: "2024-03-01", Text: "patient reports fever and chest pain"},
		{PatientID: "p2", DateOfService: "2024-03-01", Text: "patient is homeless"},
		{PatientID: "p3", DateOfService: "2024-03-02", Text: "unremarkable visit"},
	})
	require.NoError(t, err)

	path := writeUploadFile(t, testUpload)
	jobID, err := env.manager.EnqueueUpload(tn, path, "upload.csv")
	require.NoError(t, err)
	waitForState(t, env.manager, jobID, types.JobCompleted)

	// No new notes, so no extraction job was queued.
	list, err := env.store.ListJobs(ctx, tn)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, types.JobUpload, list[0].Kind)
}

func TestExtractionJobTimeoutCompletesWithPartialResults(t *testing.T) {
	env := newTestEnv(t, Config{
		Extract: extract.Config{JobTimeout: time.Nanosecond},
	}, nil)
	tn := "tenant-" + t.Name()
	ctx := context.Background()

	var notes []*types.Note
	for i := 0; i < 40; i++ {
		notes = append(notes, &types.Note{
			PatientID:     fmt.Sprintf("p%d", i),
			DateOfService: "2024-03-01",
			Text:          "fever",
		})
	}
	_, err := env.store.InsertNotes(ctx, tn, notes)
	require.NoError(t, err)

	jobID, err := env.manager.EnqueueExtraction(tn, 10, 0)
	require.NoError(t, err)

	// The deadline passing completes the job; it does not fail it.
	job := waitForState(t, env.manager, jobID, types.JobCompleted)
	assert.Empty(t, job.Error)

	// Nothing was dispatched after the deadline.
	counts, err := env.store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Less(t, counts.Mentions, 40)

	st, err := env.store.GetProcessStatus(ctx, tn, progress.ProcessExtraction)
	require.NoError(t, err)
	assert.Equal(t, "completed", st.State)
	assert.Contains(t, st.Message, "timeout")
}

// flakyStore fails ListNotesWithoutMentions a set number of times to
// force the retry path.
type flakyStore struct {
	*sqlite.Store
	failures int32
}

func (f *flakyStore) ListNotesWithoutMentions(ctx context.Context, tenantID string) ([]*types.Note, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return nil, fmt.Errorf("simulated transient failure")
	}
	return f.Store.ListNotesWithoutMentions(ctx, tenantID)
}

func TestExtractionRetryEventCarriesMessage(t *testing.T) {
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	fs := &flakyStore{Store: store, failures: 1}

	bus := progress.NewBus(fs, nil)
	t.Cleanup(bus.Close)

	seedPath := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(seedPath, []byte(testSeed), 0o644))
	loader := dictionary.NewLoader(fs, seedPath, nil)

	m := NewManager(Config{MaxRetries: 2}, fs, bus, loader, nil, nil)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	tn := "tenant-" + t.Name()
	_, err = store.InsertNotes(context.Background(), tn, []*types.Note{
		{PatientID: "p1", DateOfService: "2024-03-01", Text: "fever"},
	})
	require.NoError(t, err)

	sub, cancel := bus.Subscribe(tn)
	defer cancel()

	jobID, err := m.EnqueueExtraction(tn, 0, 0)
	require.NoError(t, err)

	var retry progress.Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-sub.Events():
			if ev.Type == progress.EventExtractionRetry {
				retry = ev
				return true
			}
		default:
		}
		return false
	}, 10*time.Second, 10*time.Millisecond, "retry event never arrived")

	assert.Equal(t, 1, retry.Attempt)
	assert.Equal(t, int64(2000), retry.WaitMS)
	assert.Contains(t, retry.Message, "retrying")
	assert.NotEmpty(t, retry.Error)

	// The durable row carries the retry message too.
	st, err := store.GetProcessStatus(context.Background(), tn, progress.ProcessExtraction)
	require.NoError(t, err)
	assert.NotEmpty(t, st.Message)

	waitForState(t, m, jobID, types.JobCompleted)
}

func TestCleanupRemovesOldTerminalJobs(t *testing.T) {
	env := newTestEnv(t, Config{CleanupAge: time.Hour}, nil)
	tn := "tenant-" + t.Name()

	path := writeUploadFile(t, testUpload)
	jobID, err := env.manager.EnqueueUpload(tn, path, "upload.csv")
	require.NoError(t, err)
	waitForState(t, env.manager, jobID, types.JobCompleted)

	// Let the chained extraction drain so no runner reads the clock
	// while it is swapped.
	require.Eventually(t, func() bool {
		env.manager.mu.Lock()
		defer env.manager.mu.Unlock()
		for _, j := range env.manager.jobs {
			if !j.State.Terminal() {
				return false
			}
		}
		return env.manager.running == 0
	}, 10*time.Second, 10*time.Millisecond)

	// Age the registry clock past the retention window.
	env.manager.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	env.manager.cleanupOnce()

	// The registry forgot the job; the store still has the history row.
	env.manager.mu.Lock()
	_, inRegistry := env.manager.jobs[jobID]
	env.manager.mu.Unlock()
	assert.False(t, inRegistry)

	job, err := env.manager.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, job.State)
}

func TestUpdateConfigAppliesToNewJobs(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	env.manager.UpdateConfig(Config{SaveBatchSize: 50, MaxRetries: 1})
	cfg := env.manager.config()
	assert.Equal(t, 50, cfg.SaveBatchSize)
	assert.Equal(t, 1, cfg.MaxRetries)
	// Unset tunables fall back to defaults, not zero.
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
}

func TestJobsConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 400, cfg.SaveBatchSize)
	assert.Equal(t, 10*time.Minute, cfg.BatchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.CleanupAge)
}
