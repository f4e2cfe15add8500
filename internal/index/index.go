// Package index pre-computes the first-token bucket map used to narrow
// the per-note candidate set from the full dictionary to the entries
// whose first word actually appears in the note.
package index

import (
	"sort"
	"strings"

	"github.com/notescan/notescan/internal/types"
)

// Index is immutable after Build and safe to share across workers.
type Index struct {
	buckets map[string][]*types.DictionaryEntry
	size    int
}

// Build constructs the index. Segments are lowercased, sorted longest
// first (so a short prefix never masks a longer phrase), and grouped by
// their first whitespace-delimited token. Entries with empty segments
// are dropped.
func Build(entries []*types.DictionaryEntry) *Index {
	normalized := make([]*types.DictionaryEntry, 0, len(entries))
	for _, e := range entries {
		seg := strings.ToLower(strings.TrimSpace(e.Segment))
		if seg == "" {
			continue
		}
		cp := *e
		cp.Segment = seg
		normalized = append(normalized, &cp)
	}

	// Stable sort: ties keep dictionary order, which keeps extraction
	// output deterministic for same-length segments.
	sort.SliceStable(normalized, func(i, j int) bool {
		return len(normalized[i].Segment) > len(normalized[j].Segment)
	})

	buckets := make(map[string][]*types.DictionaryEntry)
	for _, e := range normalized {
		first := strings.Fields(e.Segment)[0]
		buckets[first] = append(buckets[first], e)
	}
	return &Index{buckets: buckets, size: len(normalized)}
}

// Size returns the number of indexed entries.
func (ix *Index) Size() int {
	return ix.size
}

// Candidates returns the entries whose first token occurs as a
// whitespace token in text, preserving the global length-descending
// order. Multi-word patterns whose first token never stands alone in
// the note are not considered; tokenization is whitespace-only.
func (ix *Index) Candidates(text string) []*types.DictionaryEntry {
	if text == "" || ix.size == 0 {
		return nil
	}
	tokens := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(tokens))

	var hit [][]*types.DictionaryEntry
	total := 0
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if bucket, ok := ix.buckets[tok]; ok {
			hit = append(hit, bucket)
			total += len(bucket)
		}
	}
	if total == 0 {
		return nil
	}

	// Merge buckets back into one length-descending sequence.
	out := make([]*types.DictionaryEntry, 0, total)
	for _, bucket := range hit {
		out = append(out, bucket...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].Segment) > len(out[j].Segment)
	})
	return out
}
