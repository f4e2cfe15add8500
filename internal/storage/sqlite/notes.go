package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

var noteSpec = tableSpec{
	table: "notes",
	columns: []string{
		"tenant_id", "patient_id", "date_of_service", "text", "provider_id",
	},
	conflict: "tenant_id, patient_id, date_of_service",
}

// InsertNotes bulk-inserts notes, skipping rows that collide on
// (tenant_id, patient_id, date_of_service). Rows with an empty patient
// ID or a non-ISO date are counted as failed and never reach the store.
func (s *Store) InsertNotes(ctx context.Context, tenantID string, notes []*types.Note) (storage.BatchResult, error) {
	rows := make([][]any, 0, len(notes))
	var result storage.BatchResult
	for _, n := range notes {
		if n.PatientID == "" || !validISODate(n.DateOfService) {
			result.Failed++
			continue
		}
		rows = append(rows, []any{
			tenantID, n.PatientID, n.DateOfService, n.Text, n.ProviderID,
		})
	}
	res, err := s.insertRows(ctx, noteSpec, rows, notesBatchSize)
	result.Add(res)
	return result, err
}

// validISODate reports whether s parses as YYYY-MM-DD.
func validISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

const noteColumns = "id, tenant_id, patient_id, date_of_service, text, provider_id"

// ListNotes returns the tenant's notes ordered by patient and date.
// limit <= 0 means no limit.
func (s *Store) ListNotes(ctx context.Context, tenantID string, limit, offset int) ([]*types.Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE tenant_id = ? ORDER BY patient_id, date_of_service"
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanNotes(rows)
}

// ListNotesWithoutMentions returns the extraction candidate set: every
// note of the tenant whose patient has no mention yet (left anti-join
// on patient_id). Already-extracted patients are excluded wholesale,
// which is what makes interrupted extractions resumable.
func (s *Store) ListNotesWithoutMentions(ctx context.Context, tenantID string) ([]*types.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("n", noteColumns)+`
		FROM notes n
		LEFT JOIN (
			SELECT DISTINCT patient_id FROM mentions WHERE tenant_id = ?
		) m ON n.patient_id = m.patient_id
		WHERE n.tenant_id = ? AND m.patient_id IS NULL
		ORDER BY n.patient_id, n.date_of_service
	`, tenantID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate notes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanNotes(rows)
}

func scanNotes(rows *sql.Rows) ([]*types.Note, error) {
	var out []*types.Note
	for rows.Next() {
		n := &types.Note{}
		if err := rows.Scan(&n.ID, &n.TenantID, &n.PatientID, &n.DateOfService, &n.Text, &n.ProviderID); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
