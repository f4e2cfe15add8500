// Package extract implements the symptom extraction core: the per-note
// scanner and the chunked concurrent executor that drives it.
package extract

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/notescan/notescan/internal/index"
	"github.com/notescan/notescan/internal/types"
)

// mentionNamespace seeds the deterministic mention IDs. The ID is
// derived from the uniqueness tuple so re-extraction of the same note
// always produces the same mention_id; conflict resolution still relies
// solely on the tuple.
var mentionNamespace = uuid.MustParse("7f1b3a52-9c4e-4d8a-b7f0-2e6a1d5c8e93")

// MentionID returns the stable ID for a mention uniqueness tuple.
func MentionID(tenantID, patientID, segment, dateOfService string, position int) string {
	m := types.Mention{
		TenantID:       tenantID,
		PatientID:      patientID,
		Segment:        segment,
		DateOfService:  dateOfService,
		PositionInText: position,
	}
	return uuid.NewSHA1(mentionNamespace, []byte(m.Key())).String()
}

// positionKey de-duplicates overlapping scans against the same
// occurrence: one mention per (lowercased segment, offset).
type positionKey struct {
	segment  string
	position int
}

// ExtractNote enumerates every occurrence of every candidate pattern in
// the note and returns mention records in candidate-dispatch order.
// The scan advances by the segment length after each match, so
// self-overlapping occurrences ("aa" in "aaa") yield one mention.
func ExtractNote(note *types.Note, ix *index.Index, tenantID string) []*types.Mention {
	if note == nil || note.Text == "" {
		return nil
	}
	candidates := ix.Candidates(note.Text)
	if len(candidates) == 0 {
		return nil
	}

	lower := strings.ToLower(note.Text)
	seen := make(map[positionKey]struct{})
	now := time.Now().UTC()

	var out []*types.Mention
	for _, entry := range candidates {
		seg := entry.Segment // lowercased at index build
		from := 0
		for {
			idx := strings.Index(lower[from:], seg)
			if idx < 0 {
				break
			}
			pos := from + idx
			from = pos + len(seg)

			key := positionKey{segment: seg, position: pos}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, newMention(note, entry, tenantID, pos, now))
		}
	}
	return out
}

func newMention(note *types.Note, entry *types.DictionaryEntry, tenantID string, pos int, now time.Time) *types.Mention {
	m := &types.Mention{
		MentionID:          MentionID(tenantID, note.PatientID, entry.Segment, note.DateOfService, pos),
		TenantID:           tenantID,
		PatientID:          note.PatientID,
		DateOfService:      note.DateOfService,
		SymptomID:          entry.SymptomID,
		Segment:            entry.Segment,
		Diagnosis:          entry.Diagnosis,
		DiagnosisCode:      entry.DiagnosisCode,
		DiagnosticCategory: entry.DiagnosticCategory,
		Kind:               entry.Kind,
		HRSNCode:           types.HRSNCodeNone,
		PositionInText:     pos,
		Present:            "Yes",
		Detected:           "Yes",
		Validated:          "Yes",
		CreatedAt:          now,
	}
	if entry.Kind == types.KindProblem {
		m.HRSNCode = types.HRSNCodeProblem
		if entry.HRSNMapping != "" {
			m.HRSN.Set(entry.HRSNMapping)
		}
	}
	return m
}
