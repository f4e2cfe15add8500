package dictionary

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/storage/sqlite"
	"github.com/notescan/notescan/internal/types"
)

const seedCSV = `symptom_id,segment,diagnosis,diagnosis_code,diagnostic_category,kind,hrsn_code,hrsn_mapping
s1,chest pain,Angina,I20.9,Cardiac,Symptom,,
s2,fever,Fever,R50.9,General,symptom,,
z1,homeless,Homelessness,Z59.0,Social,Problem,Z59.0,housing_status
s3,,Empty segment row,,,Symptom,,
`

func TestParseSeed(t *testing.T) {
	entries, err := ParseSeed(strings.NewReader(seedCSV), "t1")
	require.NoError(t, err)
	require.Len(t, entries, 3) // empty-segment row dropped

	assert.Equal(t, "s1", entries[0].SymptomID)
	assert.Equal(t, types.KindSymptom, entries[0].Kind)
	// kind parsing is case-insensitive, defaulting to Symptom
	assert.Equal(t, types.KindSymptom, entries[1].Kind)

	hrsn := entries[2]
	assert.Equal(t, types.KindProblem, hrsn.Kind)
	assert.Equal(t, "Z59.0", hrsn.HRSNCode)
	assert.Equal(t, types.HRSNHousing, hrsn.HRSNMapping)
}

func TestParseSeedRejectsMissingColumns(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("symptom_id,diagnosis\ns1,x\n"), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment")

	_, err = ParseSeed(strings.NewReader("segment,diagnosis\nfever,x\n"), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symptom_id")
}

func TestParseSeedUnknownMappingIgnored(t *testing.T) {
	data := "symptom_id,segment,hrsn_mapping\nz1,homeless,not_a_category\n"
	entries, err := ParseSeed(strings.NewReader(data), "t1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, string(entries[0].HRSNMapping))
}

func TestReconcileDropsExactDuplicates(t *testing.T) {
	e := &types.DictionaryEntry{SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom}
	dup := *e
	out, stats := Reconcile([]*types.DictionaryEntry{e, &dup})
	assert.Len(t, out, 1)
	assert.Equal(t, 1, stats.ExactDuplicates)
}

func TestReconcileSuffixesIDCollisions(t *testing.T) {
	out, stats := Reconcile([]*types.DictionaryEntry{
		{SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom},
		{SymptomID: "s1", Segment: "cough", Kind: types.KindSymptom},
		{SymptomID: "s1", Segment: "nausea", Kind: types.KindSymptom},
	})
	require.Len(t, out, 3)
	assert.Equal(t, 2, stats.IDCollisions)
	assert.Equal(t, "s1", out[0].SymptomID)
	assert.Equal(t, "s1_1", out[1].SymptomID)
	assert.Equal(t, "s1_2", out[2].SymptomID)
}

func TestReconcileSkipsTakenSuffix(t *testing.T) {
	out, _ := Reconcile([]*types.DictionaryEntry{
		{SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom},
		{SymptomID: "s1_1", Segment: "cough", Kind: types.KindSymptom},
		{SymptomID: "s1", Segment: "nausea", Kind: types.KindSymptom},
	})
	require.Len(t, out, 3)
	assert.Equal(t, "s1_2", out[2].SymptomID)
}

func TestReconcileDropsInvalid(t *testing.T) {
	out, stats := Reconcile([]*types.DictionaryEntry{
		nil,
		{SymptomID: "", Segment: "fever"},
		{SymptomID: "s1", Segment: ""},
		{SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom},
	})
	assert.Len(t, out, 1)
	assert.Equal(t, 3, stats.Invalid)
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderSeedsThenReadsStore(t *testing.T) {
	store := newTestStore(t)
	tn := "tenant-" + t.Name()
	loader := NewLoader(store, writeSeedFile(t, seedCSV), nil)

	entries, err := loader.Load(context.Background(), tn)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	// The seed is now persisted; a second load reads the store and does
	// not duplicate anything.
	again, err := loader.Load(context.Background(), tn)
	require.NoError(t, err)
	assert.Len(t, again, 3)

	counts, err := store.CountEntities(context.Background(), tn)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Dictionary)
}

func TestLoaderUnavailableWhenStoreEmptyAndSeedMissing(t *testing.T) {
	store := newTestStore(t)
	loader := NewLoader(store, filepath.Join(t.TempDir(), "missing.csv"), nil)

	_, err := loader.Load(context.Background(), "tenant-"+t.Name())
	assert.ErrorIs(t, err, storage.ErrDictionaryUnavailable)
}

func TestLoaderUnavailableWhenSeedEmpty(t *testing.T) {
	store := newTestStore(t)
	seed := writeSeedFile(t, "symptom_id,segment\ns1,\n")
	loader := NewLoader(store, seed, nil)

	_, err := loader.Load(context.Background(), "tenant-"+t.Name())
	assert.ErrorIs(t, err, storage.ErrDictionaryUnavailable)
}
