package sqlite

import (
	"context"
	"fmt"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

var dictionarySpec = tableSpec{
	table: "dictionary",
	columns: []string{
		"tenant_id", "symptom_id", "segment", "diagnosis", "diagnosis_code",
		"diagnostic_category", "kind", "hrsn_code", "hrsn_mapping",
	},
	conflict: "tenant_id, symptom_id",
}

// InsertDictionary bulk-inserts dictionary entries, skipping rows that
// collide on (tenant_id, symptom_id). Empty segments are rejected here
// as a second line of defense; the loader drops them before persisting.
func (s *Store) InsertDictionary(ctx context.Context, tenantID string, entries []*types.DictionaryEntry) (storage.BatchResult, error) {
	rows := make([][]any, 0, len(entries))
	var result storage.BatchResult
	for _, e := range entries {
		if e.SymptomID == "" || e.Segment == "" {
			result.Failed++
			continue
		}
		rows = append(rows, []any{
			tenantID, e.SymptomID, e.Segment, e.Diagnosis, e.DiagnosisCode,
			e.DiagnosticCategory, string(e.Kind), e.HRSNCode, string(e.HRSNMapping),
		})
	}
	res, err := s.insertRows(ctx, dictionarySpec, rows, dictionaryBatchSize)
	result.Add(res)
	return result, err
}

// ListDictionary returns all dictionary entries for the tenant.
func (s *Store) ListDictionary(ctx context.Context, tenantID string) ([]*types.DictionaryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, symptom_id, segment, diagnosis, diagnosis_code,
		       diagnostic_category, kind, hrsn_code, hrsn_mapping
		FROM dictionary WHERE tenant_id = ? ORDER BY symptom_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dictionary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.DictionaryEntry
	for rows.Next() {
		e := &types.DictionaryEntry{}
		var kind, mapping string
		if err := rows.Scan(&e.TenantID, &e.SymptomID, &e.Segment, &e.Diagnosis,
			&e.DiagnosisCode, &e.DiagnosticCategory, &kind, &e.HRSNCode, &mapping); err != nil {
			return nil, fmt.Errorf("failed to scan dictionary entry: %w", err)
		}
		e.Kind = types.EntryKind(kind)
		e.HRSNMapping = types.HRSNMapping(mapping)
		out = append(out, e)
	}
	return out, rows.Err()
}
