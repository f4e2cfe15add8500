package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notescan/notescan/internal/index"
	"github.com/notescan/notescan/internal/types"
)

func testNote(text string) *types.Note {
	return &types.Note{
		TenantID:      "t1",
		PatientID:     "p1",
		DateOfService: "2024-03-01",
		Text:          text,
	}
}

func symptomIndex(segments ...string) *index.Index {
	entries := make([]*types.DictionaryEntry, 0, len(segments))
	for i, seg := range segments {
		entries = append(entries, &types.DictionaryEntry{
			TenantID:  "t1",
			SymptomID: string(rune('a' + i)),
			Segment:   seg,
			Kind:      types.KindSymptom,
		})
	}
	return index.Build(entries)
}

func TestExtractNoteFindsAllOccurrences(t *testing.T) {
	ix := symptomIndex("fever")
	mentions := ExtractNote(testNote("fever in the morning, fever at night"), ix, "t1")
	require.Len(t, mentions, 2)
	assert.Equal(t, 0, mentions[0].PositionInText)
	assert.Equal(t, 22, mentions[1].PositionInText)
}

func TestExtractNoteCaseInsensitive(t *testing.T) {
	ix := symptomIndex("chest pain")
	mentions := ExtractNote(testNote("CHEST PAIN reported"), ix, "t1")
	require.Len(t, mentions, 1)
	assert.Equal(t, "chest pain", mentions[0].Segment)
	assert.Equal(t, 0, mentions[0].PositionInText)
}

func TestExtractNoteAdvancesBySegmentLength(t *testing.T) {
	// Self-overlapping pattern: "aa aa" contains "aa" at 0 and 3, not at
	// 1 (the scan jumps past each match).
	ix := symptomIndex("aa")
	mentions := ExtractNote(testNote("aa aa"), ix, "t1")
	require.Len(t, mentions, 2)
	assert.Equal(t, 0, mentions[0].PositionInText)
	assert.Equal(t, 3, mentions[1].PositionInText)
}

func TestExtractNoteSelfOverlap(t *testing.T) {
	// Within "aaa" the pattern "aa" occurs at offsets 3 and 4, but the
	// scan jumps past the first match, so only offset 3 is reported.
	ix := symptomIndex("aa")
	mentions := ExtractNote(testNote("aa aaa"), ix, "t1")
	require.Len(t, mentions, 2)
	assert.Equal(t, 0, mentions[0].PositionInText)
	assert.Equal(t, 3, mentions[1].PositionInText)
}

func TestExtractNoteDefaultFields(t *testing.T) {
	ix := symptomIndex("fever")
	mentions := ExtractNote(testNote("fever"), ix, "t1")
	require.Len(t, mentions, 1)

	m := mentions[0]
	assert.Equal(t, "Yes", m.Present)
	assert.Equal(t, "Yes", m.Detected)
	assert.Equal(t, "Yes", m.Validated)
	assert.Equal(t, types.HRSNCodeNone, m.HRSNCode)
	_, active := m.HRSN.Active()
	assert.False(t, active)
}

func TestExtractNoteProblemSetsHRSN(t *testing.T) {
	entries := []*types.DictionaryEntry{{
		TenantID:    "t1",
		SymptomID:   "z1",
		Segment:     "homeless",
		Kind:        types.KindProblem,
		HRSNCode:    "Z59.0",
		HRSNMapping: types.HRSNHousing,
	}}
	ix := index.Build(entries)

	mentions := ExtractNote(testNote("patient is homeless"), ix, "t1")
	require.Len(t, mentions, 1)

	m := mentions[0]
	assert.Equal(t, types.HRSNCodeProblem, m.HRSNCode)
	mapping, active := m.HRSN.Active()
	require.True(t, active)
	assert.Equal(t, types.HRSNHousing, mapping)
	require.NotNil(t, m.HRSN.HousingStatus)
	assert.Equal(t, types.ProblemIdentified, *m.HRSN.HousingStatus)
}

func TestExtractNoteDedupesSamePosition(t *testing.T) {
	// Two entries with the same segment text must not double-report the
	// same occurrence.
	entries := []*types.DictionaryEntry{
		{TenantID: "t1", SymptomID: "s1", Segment: "fever", Kind: types.KindSymptom},
		{TenantID: "t1", SymptomID: "s2", Segment: "Fever", Kind: types.KindSymptom},
	}
	ix := index.Build(entries)

	mentions := ExtractNote(testNote("fever"), ix, "t1")
	assert.Len(t, mentions, 1)
}

func TestExtractNoteEmptyInputs(t *testing.T) {
	ix := symptomIndex("fever")
	assert.Nil(t, ExtractNote(nil, ix, "t1"))
	assert.Nil(t, ExtractNote(testNote(""), ix, "t1"))
	assert.Nil(t, ExtractNote(testNote("nothing matches"), ix, "t1"))
}

func TestMentionIDDeterministic(t *testing.T) {
	a := MentionID("t1", "p1", "fever", "2024-03-01", 10)
	b := MentionID("t1", "p1", "fever", "2024-03-01", 10)
	c := MentionID("t1", "p1", "fever", "2024-03-01", 11)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
