package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notescan/notescan/internal/types"
)

func entry(id, segment string) *types.DictionaryEntry {
	return &types.DictionaryEntry{
		TenantID:  "t1",
		SymptomID: id,
		Segment:   segment,
		Kind:      types.KindSymptom,
	}
}

func TestBuildNormalizesAndDropsEmpty(t *testing.T) {
	ix := Build([]*types.DictionaryEntry{
		entry("s1", "  Chest Pain "),
		entry("s2", ""),
		entry("s3", "   "),
		entry("s4", "fever"),
	})
	assert.Equal(t, 2, ix.Size())

	got := ix.Candidates("patient reports chest pain and fever")
	require.Len(t, got, 2)
	assert.Equal(t, "chest pain", got[0].Segment)
	assert.Equal(t, "fever", got[1].Segment)
}

func TestBuildDoesNotMutateInput(t *testing.T) {
	in := entry("s1", "Chest Pain")
	Build([]*types.DictionaryEntry{in})
	assert.Equal(t, "Chest Pain", in.Segment)
}

func TestCandidatesLongestFirst(t *testing.T) {
	ix := Build([]*types.DictionaryEntry{
		entry("s1", "pain"),
		entry("s2", "pain in chest"),
		entry("s3", "pain radiating to left arm"),
	})

	got := ix.Candidates("pain everywhere")
	require.Len(t, got, 3)
	assert.Equal(t, "pain radiating to left arm", got[0].Segment)
	assert.Equal(t, "pain in chest", got[1].Segment)
	assert.Equal(t, "pain", got[2].Segment)
}

func TestCandidatesRequiresFirstToken(t *testing.T) {
	ix := Build([]*types.DictionaryEntry{
		entry("s1", "shortness of breath"),
	})

	// First token present: candidate returned even though the full
	// phrase may not match.
	assert.Len(t, ix.Candidates("shortness noted"), 1)
	// First token absent: bucket never consulted.
	assert.Empty(t, ix.Candidates("breath sounds clear"))
}

func TestCandidatesEmptyInputs(t *testing.T) {
	ix := Build(nil)
	assert.Nil(t, ix.Candidates("anything"))

	ix = Build([]*types.DictionaryEntry{entry("s1", "fever")})
	assert.Nil(t, ix.Candidates(""))
	assert.Nil(t, ix.Candidates("no matches here"))
}

func TestCandidatesDedupesRepeatedTokens(t *testing.T) {
	ix := Build([]*types.DictionaryEntry{entry("s1", "fever")})
	got := ix.Candidates("fever fever fever")
	assert.Len(t, got, 1)
}
