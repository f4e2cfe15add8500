package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// tenant returns a per-test tenant ID; the in-memory database is shared
// across stores in one process, so tests isolate on tenant.
func tenant(t *testing.T) string {
	return "tenant-" + t.Name()
}

func patient(id string) *types.Patient {
	return &types.Patient{PatientID: id, DisplayName: "Patient " + id}
}

func note(patientID, date, text string) *types.Note {
	return &types.Note{PatientID: patientID, DateOfService: date, Text: text}
}

func mention(patientID, segment, date string, pos int) *types.Mention {
	return &types.Mention{
		MentionID:      fmt.Sprintf("m-%s-%s-%d", patientID, segment, pos),
		PatientID:      patientID,
		DateOfService:  date,
		SymptomID:      "s1",
		Segment:        segment,
		Kind:           types.KindSymptom,
		HRSNCode:       types.HRSNCodeNone,
		PositionInText: pos,
		Present:        "Yes",
		Detected:       "Yes",
		Validated:      "Yes",
	}
}

func TestInsertPatientsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	res, err := store.InsertPatients(ctx, tn, []*types.Patient{patient("p1"), patient("p2")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Skipped)

	res, err = store.InsertPatients(ctx, tn, []*types.Patient{patient("p1"), patient("p3")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)

	counts, err := store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Patients)
}

func TestInsertPatientsValidation(t *testing.T) {
	store := newTestStore(t)
	res, err := store.InsertPatients(context.Background(), tenant(t),
		[]*types.Patient{patient(""), patient("p1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
}

func TestInsertNotesValidation(t *testing.T) {
	store := newTestStore(t)
	res, err := store.InsertNotes(context.Background(), tenant(t), []*types.Note{
		note("p1", "2024-03-01", "ok"),
		note("", "2024-03-01", "no patient"),
		note("p1", "03/01/2024", "bad date"),
		note("p1", "", "missing date"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, res.Failed)
}

func TestInsertNotesConflictOnPatientDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	res, err := store.InsertNotes(ctx, tn, []*types.Note{
		note("p1", "2024-03-01", "first"),
		note("p1", "2024-03-02", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	// Same patient and date collides regardless of text.
	res, err = store.InsertNotes(ctx, tn, []*types.Note{
		note("p1", "2024-03-01", "different text"),
	})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Skipped)

	list, err := store.ListNotes(ctx, tn, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Text)
}

func TestInsertMentionsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	res, err := store.InsertMentions(ctx, tn, []*types.Mention{
		mention("p1", "fever", "2024-03-01", 0),
		mention("p1", "fever", "2024-03-01", 10),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	// Re-extraction produces the same tuples; all skipped.
	res, err = store.InsertMentions(ctx, tn, []*types.Mention{
		mention("p1", "fever", "2024-03-01", 0),
		mention("p1", "fever", "2024-03-01", 10),
		mention("p1", "fever", "2024-03-01", 20),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Skipped)
}

func TestInsertMentionsHRSNRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	m := mention("p1", "homeless", "2024-03-01", 5)
	m.Kind = types.KindProblem
	m.HRSNCode = types.HRSNCodeProblem
	m.HRSN.Set(types.HRSNHousing)

	_, err := store.InsertMentions(ctx, tn, []*types.Mention{m})
	require.NoError(t, err)

	got, err := store.ListMentionsByPatient(ctx, tn, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.HRSNCodeProblem, got[0].HRSNCode)
	mapping, active := got[0].HRSN.Active()
	require.True(t, active)
	assert.Equal(t, types.HRSNHousing, mapping)
}

func TestListNotesWithoutMentions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	_, err := store.InsertNotes(ctx, tn, []*types.Note{
		note("p1", "2024-03-01", "a"),
		note("p1", "2024-03-02", "b"),
		note("p2", "2024-03-01", "c"),
	})
	require.NoError(t, err)

	// All three are candidates before any extraction.
	candidates, err := store.ListNotesWithoutMentions(ctx, tn)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)

	// One mention for p1 excludes both of p1's notes.
	_, err = store.InsertMentions(ctx, tn, []*types.Mention{
		mention("p1", "fever", "2024-03-01", 0),
	})
	require.NoError(t, err)

	candidates, err = store.ListNotesWithoutMentions(ctx, tn)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p2", candidates[0].PatientID)
}

func TestProcessStatusMonotonicPercentage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)
	now := time.Now().UTC()

	write := func(state string, pct float64) {
		require.NoError(t, store.UpsertProcessStatus(ctx, &types.ProcessStatus{
			TenantID: tn, ProcessType: "extraction",
			State: state, Percentage: pct, LastUpdate: now,
		}))
	}

	write("running", 40)
	write("running", 25) // stale update must not move it backwards
	st, err := store.GetProcessStatus(ctx, tn, "extraction")
	require.NoError(t, err)
	assert.Equal(t, 40.0, st.Percentage)

	write("running", 80)
	st, _ = store.GetProcessStatus(ctx, tn, "extraction")
	assert.Equal(t, 80.0, st.Percentage)

	// reset bypasses the guard.
	write("reset", 0)
	st, _ = store.GetProcessStatus(ctx, tn, "extraction")
	assert.Equal(t, 0.0, st.Percentage)
	assert.Equal(t, "reset", st.State)

	// ready does too, so recovery can drop a stuck row to zero.
	write("running", 80)
	write("ready", 0)
	st, _ = store.GetProcessStatus(ctx, tn, "extraction")
	assert.Equal(t, 0.0, st.Percentage)
	assert.Equal(t, "ready", st.State)
}

func TestProcessStatusStartTimePreserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)
	start := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.UpsertProcessStatus(ctx, &types.ProcessStatus{
		TenantID: tn, ProcessType: "upload", State: "running",
		Percentage: 10, LastUpdate: start, Start: &start,
	}))
	// Later updates without a start time keep the original.
	require.NoError(t, store.UpsertProcessStatus(ctx, &types.ProcessStatus{
		TenantID: tn, ProcessType: "upload", State: "running",
		Percentage: 50, LastUpdate: start.Add(time.Minute),
	}))

	st, err := store.GetProcessStatus(ctx, tn, "upload")
	require.NoError(t, err)
	require.NotNil(t, st.Start)
	assert.True(t, st.Start.Equal(start))
}

func TestGetProcessStatusNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetProcessStatus(context.Background(), tenant(t), "extraction")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	created := time.Now().UTC().Truncate(time.Second)
	job := &types.Job{
		ID: "job-1", TenantID: tn, Kind: types.JobUpload,
		State: types.JobQueued, CreatedAt: created, FileName: "notes.csv",
	}
	require.NoError(t, store.SaveJob(ctx, job))

	// State transition upserts the same row.
	started := created.Add(time.Second)
	job.State = types.JobRunning
	job.StartedAt = &started
	job.Progress.Percentage = 30
	require.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, got.State)
	assert.Equal(t, 30.0, got.Progress.Percentage)
	assert.Equal(t, "notes.csv", got.FileName)
	require.NotNil(t, got.StartedAt)

	_, err = store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListJobsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"old", "new"} {
		started := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveJob(ctx, &types.Job{
			ID: id, TenantID: tn, Kind: types.JobExtraction,
			State: types.JobCompleted, CreatedAt: base, StartedAt: &started,
		}))
	}

	list, err := store.ListJobs(ctx, tn)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
}

func TestUploadRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	now := time.Now().UTC().Truncate(time.Second)
	rec := &types.UploadRecord{
		UploadID: "u1", TenantID: tn, FileName: "notes.csv",
		ProcessedRecords: 100, NewPatients: 10, NewNotes: 90,
		StartedAt: now, EndedAt: now.Add(time.Minute),
	}
	require.NoError(t, store.SaveUploadRecord(ctx, rec))
	// Replays are ignored.
	require.NoError(t, store.SaveUploadRecord(ctx, rec))

	list, err := store.ListUploadRecords(ctx, tn)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 90, list[0].NewNotes)
}

func TestClearMentions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	_, err := store.InsertMentions(ctx, tn, []*types.Mention{
		mention("p1", "fever", "2024-03-01", 0),
		mention("p2", "fever", "2024-03-01", 0),
	})
	require.NoError(t, err)

	n, err := store.ClearMentions(ctx, tn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Zero(t, counts.Mentions)
}

func TestPurgeTenantKeepsDictionary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	_, err := store.InsertPatients(ctx, tn, []*types.Patient{patient("p1")})
	require.NoError(t, err)
	_, err = store.InsertNotes(ctx, tn, []*types.Note{note("p1", "2024-03-01", "x")})
	require.NoError(t, err)
	_, err = store.InsertMentions(ctx, tn, []*types.Mention{mention("p1", "fever", "2024-03-01", 0)})
	require.NoError(t, err)
	_, err = store.InsertDictionary(ctx, tn, []*types.DictionaryEntry{{
		SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom,
	}})
	require.NoError(t, err)

	require.NoError(t, store.PurgeTenant(ctx, tn))

	counts, err := store.CountEntities(ctx, tn)
	require.NoError(t, err)
	assert.Zero(t, counts.Patients)
	assert.Zero(t, counts.Notes)
	assert.Zero(t, counts.Mentions)
	assert.Equal(t, 1, counts.Dictionary)
}

func TestMentionsPerPatientCountsDistinctSegments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tn := tenant(t)

	_, err := store.InsertMentions(ctx, tn, []*types.Mention{
		mention("p1", "fever", "2024-03-01", 0),
		mention("p1", "fever", "2024-03-02", 0), // same segment, new date
		mention("p1", "cough", "2024-03-01", 9),
		mention("p2", "fever", "2024-03-01", 0),
	})
	require.NoError(t, err)

	got, err := store.MentionsPerPatient(ctx, tn)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PatientID)
	assert.Equal(t, 2, got[0].DistinctSegmentCount)
	assert.Equal(t, 1, got[1].DistinctSegmentCount)
}

func TestTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := tenant(t)+"-a", tenant(t)+"-b"

	_, err := store.InsertPatients(ctx, a, []*types.Patient{patient("p1")})
	require.NoError(t, err)

	// Same patient ID under another tenant inserts cleanly.
	res, err := store.InsertPatients(ctx, b, []*types.Patient{patient("p1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	counts, err := store.CountEntities(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Patients)
}
