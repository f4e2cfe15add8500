package dictionary

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/notescan/notescan/internal/types"
)

// seed CSV column names, matched case-insensitively after trimming.
const (
	colSymptomID          = "symptom_id"
	colSegment            = "segment"
	colDiagnosis          = "diagnosis"
	colDiagnosisCode      = "diagnosis_code"
	colDiagnosticCategory = "diagnostic_category"
	colKind               = "kind"
	colHRSNCode           = "hrsn_code"
	colHRSNMapping        = "hrsn_mapping"
)

// ParseSeedFile reads the dictionary seed CSV at path. The header row
// is mapped by name; symptom_id and segment are required columns.
// Rows with an empty segment are dropped here so the pattern index
// never sees them.
func ParseSeedFile(path, tenantID string) ([]*types.DictionaryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSeed(f, tenantID)
}

// ParseSeed reads dictionary entries from CSV data.
func ParseSeed(r io.Reader, tenantID string) ([]*types.DictionaryEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read seed header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols[colSymptomID]; !ok {
		return nil, fmt.Errorf("seed header missing %q column", colSymptomID)
	}
	if _, ok := cols[colSegment]; !ok {
		return nil, fmt.Errorf("seed header missing %q column", colSegment)
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []*types.DictionaryEntry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read seed row %d: %w", line, err)
		}
		segment := field(row, colSegment)
		if segment == "" {
			continue
		}
		entry := &types.DictionaryEntry{
			TenantID:           tenantID,
			SymptomID:          field(row, colSymptomID),
			Segment:            segment,
			Diagnosis:          field(row, colDiagnosis),
			DiagnosisCode:      field(row, colDiagnosisCode),
			DiagnosticCategory: field(row, colDiagnosticCategory),
			Kind:               parseKind(field(row, colKind)),
			HRSNCode:           field(row, colHRSNCode),
		}
		if mapping := field(row, colHRSNMapping); types.ValidHRSNMapping(mapping) {
			entry.HRSNMapping = types.HRSNMapping(mapping)
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseKind(s string) types.EntryKind {
	if strings.EqualFold(s, string(types.KindProblem)) {
		return types.KindProblem
	}
	return types.KindSymptom
}
