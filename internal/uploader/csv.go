package uploader

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/notescan/notescan/internal/types"
)

// Column aliases accepted at ingress. Upload files arrive with a mix of
// snake_case and camelCase headers; they are normalized here and the
// canonical names never leave this package.
var columnAliases = map[string]string{
	"patient_id":      "patient_id",
	"patientid":       "patient_id",
	"display_name":    "display_name",
	"displayname":     "display_name",
	"patient_name":    "display_name",
	"date_of_service": "date_of_service",
	"dateofservice":   "date_of_service",
	"dos":             "date_of_service",
	"note_text":       "text",
	"notetext":        "text",
	"text":            "text",
	"note":            "text",
	"provider_id":     "provider_id",
	"providerid":      "provider_id",
	"age_bucket":      "age_bucket",
	"age":             "age_bucket",
	"gender":          "gender",
	"race":            "race",
	"ethnicity":       "ethnicity",
	"zip":             "zip",
	"zip_code":        "zip",
	"education":       "education",
	"veteran_status":  "veteran_status",
	"veteranstatus":   "veteran_status",
}

// dateLayouts are the accepted date_of_service formats, normalized to
// ISO on the way in.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

// CSVSource implements Source for comma-separated uploads.
type CSVSource struct {
	file     *os.File
	reader   *csv.Reader
	cols     map[string]int
	tenantID string
	total    int
	skipped  int
	line     int
}

// OpenCSV opens a CSV upload. The header row is required and must
// contain patient_id, date_of_service, and a note text column. The file
// is pre-scanned once to count data rows so progress can report a
// percentage.
func OpenCSV(path, tenantID string) (*CSVSource, error) {
	total, err := countDataRows(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read upload header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			if _, taken := cols[canonical]; !taken {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{"patient_id", "date_of_service", "text"} {
		if _, ok := cols[required]; !ok {
			_ = f.Close()
			return nil, fmt.Errorf("upload header missing %q column", required)
		}
	}

	return &CSVSource{
		file:     f,
		reader:   reader,
		cols:     cols,
		tenantID: tenantID,
		total:    total,
		line:     1,
	}, nil
}

// countDataRows counts newline-terminated rows after the header.
func countDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan upload: %w", err)
	}
	if n > 0 {
		n-- // header
	}
	return n, nil
}

// Total returns the number of data rows.
func (s *CSVSource) Total() int {
	return s.total
}

// Skipped reports rows dropped for validation failures so far.
func (s *CSVSource) Skipped() int {
	return s.skipped
}

// Close releases the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}

// Next returns the next valid record, skipping and counting rows with
// an empty patient ID or an unparseable date.
func (s *CSVSource) Next() (*Record, error) {
	for {
		row, err := s.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read upload row %d: %w", s.line+1, err)
		}
		s.line++

		rec, ok := s.normalize(row)
		if !ok {
			s.skipped++
			continue
		}
		return rec, nil
	}
}

func (s *CSVSource) field(row []string, name string) string {
	i, ok := s.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *CSVSource) normalize(row []string) (*Record, bool) {
	patientID := s.field(row, "patient_id")
	if patientID == "" {
		return nil, false
	}
	date, ok := normalizeDate(s.field(row, "date_of_service"))
	if !ok {
		return nil, false
	}

	return &Record{
		Patient: types.Patient{
			TenantID:    s.tenantID,
			PatientID:   patientID,
			DisplayName: s.field(row, "display_name"),
			Demographics: types.Demographics{
				AgeBucket:     s.field(row, "age_bucket"),
				Gender:        s.field(row, "gender"),
				Race:          s.field(row, "race"),
				Ethnicity:     s.field(row, "ethnicity"),
				Zip:           s.field(row, "zip"),
				Education:     s.field(row, "education"),
				VeteranStatus: s.field(row, "veteran_status"),
			},
		},
		Note: types.Note{
			TenantID:      s.tenantID,
			PatientID:     patientID,
			DateOfService: date,
			Text:          s.field(row, "text"),
			ProviderID:    s.field(row, "provider_id"),
		},
	}, true
}

// normalizeDate parses any accepted layout and renders ISO.
func normalizeDate(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// DefaultOpener opens CSV uploads.
var DefaultOpener = OpenerFunc(func(path, tenantID string) (Source, error) {
	return OpenCSV(path, tenantID)
})
