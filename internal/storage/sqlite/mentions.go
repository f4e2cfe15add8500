package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

var mentionSpec = tableSpec{
	table: "mentions",
	columns: []string{
		"mention_id", "tenant_id", "patient_id", "date_of_service",
		"symptom_id", "segment", "diagnosis", "diagnosis_code",
		"diagnostic_category", "kind", "hrsn_code", "position_in_text",
		"present", "detected", "validated",
		"housing_status", "food_status", "financial_status",
		"transportation_needs", "has_a_car", "utility_insecurity",
		"childcare_needs", "elder_care_needs", "employment_status",
		"education_needs", "legal_needs", "social_isolation",
		"created_at",
	},
	conflict: "tenant_id, patient_id, segment, date_of_service, position_in_text",
}

// InsertMentions bulk-inserts mentions; collisions on the five-column
// uniqueness key are skipped, which makes re-extraction idempotent.
func (s *Store) InsertMentions(ctx context.Context, tenantID string, mentions []*types.Mention) (storage.BatchResult, error) {
	rows := make([][]any, 0, len(mentions))
	var result storage.BatchResult
	for _, m := range mentions {
		if m.PatientID == "" || m.Segment == "" || m.PositionInText < 0 {
			result.Failed++
			continue
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		row := []any{
			m.MentionID, tenantID, m.PatientID, m.DateOfService,
			m.SymptomID, m.Segment, m.Diagnosis, m.DiagnosisCode,
			m.DiagnosticCategory, string(m.Kind), m.HRSNCode, m.PositionInText,
			m.Present, m.Detected, m.Validated,
		}
		for _, flag := range m.HRSN.Values() {
			row = append(row, flag)
		}
		row = append(row, createdAt)
		rows = append(rows, row)
	}
	res, err := s.insertRows(ctx, mentionSpec, rows, mentionsBatchSize)
	result.Add(res)
	return result, err
}

const mentionColumns = "mention_id, tenant_id, patient_id, date_of_service, " +
	"symptom_id, segment, diagnosis, diagnosis_code, diagnostic_category, " +
	"kind, hrsn_code, position_in_text, present, detected, validated, " +
	"housing_status, food_status, financial_status, transportation_needs, " +
	"has_a_car, utility_insecurity, childcare_needs, elder_care_needs, " +
	"employment_status, education_needs, legal_needs, social_isolation, created_at"

// ListMentionsByPatient returns the patient's mentions ordered by date
// and position.
func (s *Store) ListMentionsByPatient(ctx context.Context, tenantID, patientID string) ([]*types.Mention, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+mentionColumns+" FROM mentions WHERE tenant_id = ? AND patient_id = ? ORDER BY date_of_service, position_in_text",
		tenantID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMentions(rows)
}

// ListMentionsByTenant returns the tenant's mentions ordered by patient,
// date, and position. limit <= 0 means no limit.
func (s *Store) ListMentionsByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*types.Mention, error) {
	query := "SELECT " + mentionColumns + " FROM mentions WHERE tenant_id = ? ORDER BY patient_id, date_of_service, position_in_text"
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMentions(rows)
}

// MentionsPerPatient returns the distinct-segment count per patient,
// the input to downstream risk stratification.
func (s *Store) MentionsPerPatient(ctx context.Context, tenantID string) ([]storage.PatientMentionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, COUNT(DISTINCT segment)
		FROM mentions WHERE tenant_id = ?
		GROUP BY patient_id ORDER BY patient_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate mentions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.PatientMentionCount
	for rows.Next() {
		var c storage.PatientMentionCount
		if err := rows.Scan(&c.PatientID, &c.DistinctSegmentCount); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountEntities returns the per-tenant row census across core tables.
func (s *Store) CountEntities(ctx context.Context, tenantID string) (storage.EntityCounts, error) {
	var counts storage.EntityCounts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"patients", &counts.Patients},
		{"notes", &counts.Notes},
		{"dictionary", &counts.Dictionary},
		{"mentions", &counts.Mentions},
	} {
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table+" WHERE tenant_id = ?", tenantID)
		if err := row.Scan(q.dst); err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", q.table, err)
		}
	}
	return counts, nil
}

func scanMentions(rows *sql.Rows) ([]*types.Mention, error) {
	var out []*types.Mention
	for rows.Next() {
		m := &types.Mention{}
		var kind string
		flags := make([]sql.NullString, len(types.HRSNMappings))
		dest := []any{
			&m.MentionID, &m.TenantID, &m.PatientID, &m.DateOfService,
			&m.SymptomID, &m.Segment, &m.Diagnosis, &m.DiagnosisCode,
			&m.DiagnosticCategory, &kind, &m.HRSNCode, &m.PositionInText,
			&m.Present, &m.Detected, &m.Validated,
		}
		for i := range flags {
			dest = append(dest, &flags[i])
		}
		dest = append(dest, &m.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		m.Kind = types.EntryKind(kind)
		for i, mapping := range types.HRSNMappings {
			if flags[i].Valid && flags[i].String == types.ProblemIdentified {
				m.HRSN.Set(mapping)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
