package sqlite

import (
	"context"

	"github.com/notescan/notescan/internal/storage"
	"github.com/notescan/notescan/internal/types"
)

var patientSpec = tableSpec{
	table: "patients",
	columns: []string{
		"tenant_id", "patient_id", "display_name",
		"age_bucket", "gender", "race", "ethnicity",
		"zip", "education", "veteran_status",
	},
	conflict: "tenant_id, patient_id",
}

// InsertPatients bulk-inserts patients, skipping rows that already
// exist for (tenant_id, patient_id). Patients are immutable once
// inserted; conflicts never update.
func (s *Store) InsertPatients(ctx context.Context, tenantID string, patients []*types.Patient) (storage.BatchResult, error) {
	rows := make([][]any, 0, len(patients))
	var result storage.BatchResult
	for _, p := range patients {
		if p.PatientID == "" {
			result.Failed++
			continue
		}
		d := p.Demographics
		rows = append(rows, []any{
			tenantID, p.PatientID, p.DisplayName,
			d.AgeBucket, d.Gender, d.Race, d.Ethnicity,
			d.Zip, d.Education, d.VeteranStatus,
		})
	}
	res, err := s.insertRows(ctx, patientSpec, rows, patientsBatchSize)
	result.Add(res)
	return result, err
}
