// Package types defines the canonical data model for the notescan engine.
//
// Every persisted entity carries a tenant ID. Field names here are the
// single canonical set; any legacy naming from upload files is reconciled
// at ingress by the uploader and never propagated into the core.
package types

import (
	"fmt"
	"time"
)

// EntryKind distinguishes clinical symptoms from health-related social
// needs (HRSN) in the symptom master dictionary.
type EntryKind string

const (
	// KindSymptom marks a clinical symptom entry.
	KindSymptom EntryKind = "Symptom"
	// KindProblem marks an HRSN entry (social determinant).
	KindProblem EntryKind = "Problem"
)

// HRSNMapping names one of the twelve social-determinant categories a
// Problem entry can map to.
type HRSNMapping string

const (
	HRSNHousing        HRSNMapping = "housing_status"
	HRSNFood           HRSNMapping = "food_status"
	HRSNFinancial      HRSNMapping = "financial_status"
	HRSNTransportation HRSNMapping = "transportation_needs"
	HRSNHasACar        HRSNMapping = "has_a_car"
	HRSNUtility        HRSNMapping = "utility_insecurity"
	HRSNChildcare      HRSNMapping = "childcare_needs"
	HRSNElderCare      HRSNMapping = "elder_care_needs"
	HRSNEmployment     HRSNMapping = "employment_status"
	HRSNEducation      HRSNMapping = "education_needs"
	HRSNLegal          HRSNMapping = "legal_needs"
	HRSNIsolation      HRSNMapping = "social_isolation"
)

// HRSNMappings lists all twelve categories in canonical column order.
var HRSNMappings = []HRSNMapping{
	HRSNHousing, HRSNFood, HRSNFinancial, HRSNTransportation,
	HRSNHasACar, HRSNUtility, HRSNChildcare, HRSNElderCare,
	HRSNEmployment, HRSNEducation, HRSNLegal, HRSNIsolation,
}

// ValidHRSNMapping reports whether s names a known HRSN category.
func ValidHRSNMapping(s string) bool {
	for _, m := range HRSNMappings {
		if string(m) == s {
			return true
		}
	}
	return false
}

// ProblemIdentified is the sentinel written into the matching HRSN flag
// of a mention derived from a Problem entry.
const ProblemIdentified = "Problem Identified"

// HRSNCodeProblem and HRSNCodeNone are the two values of Mention.HRSNCode.
const (
	HRSNCodeProblem = "ZCode/HRSN"
	HRSNCodeNone    = "No"
)

// HRSNFlags holds the twelve nullable social-determinant flags of a
// mention. At most one is set, and only for Problem-kind mentions.
type HRSNFlags struct {
	HousingStatus       *string `json:"housing_status,omitempty"`
	FoodStatus          *string `json:"food_status,omitempty"`
	FinancialStatus     *string `json:"financial_status,omitempty"`
	TransportationNeeds *string `json:"transportation_needs,omitempty"`
	HasACar             *string `json:"has_a_car,omitempty"`
	UtilityInsecurity   *string `json:"utility_insecurity,omitempty"`
	ChildcareNeeds      *string `json:"childcare_needs,omitempty"`
	ElderCareNeeds      *string `json:"elder_care_needs,omitempty"`
	EmploymentStatus    *string `json:"employment_status,omitempty"`
	EducationNeeds      *string `json:"education_needs,omitempty"`
	LegalNeeds          *string `json:"legal_needs,omitempty"`
	SocialIsolation     *string `json:"social_isolation,omitempty"`
}

// fieldFor returns a pointer to the flag slot for the given mapping.
func (f *HRSNFlags) fieldFor(m HRSNMapping) **string {
	switch m {
	case HRSNHousing:
		return &f.HousingStatus
	case HRSNFood:
		return &f.FoodStatus
	case HRSNFinancial:
		return &f.FinancialStatus
	case HRSNTransportation:
		return &f.TransportationNeeds
	case HRSNHasACar:
		return &f.HasACar
	case HRSNUtility:
		return &f.UtilityInsecurity
	case HRSNChildcare:
		return &f.ChildcareNeeds
	case HRSNElderCare:
		return &f.ElderCareNeeds
	case HRSNEmployment:
		return &f.EmploymentStatus
	case HRSNEducation:
		return &f.EducationNeeds
	case HRSNLegal:
		return &f.LegalNeeds
	case HRSNIsolation:
		return &f.SocialIsolation
	}
	return nil
}

// Set writes the ProblemIdentified sentinel into the slot for m.
func (f *HRSNFlags) Set(m HRSNMapping) {
	if slot := f.fieldFor(m); slot != nil {
		v := ProblemIdentified
		*slot = &v
	}
}

// Get returns the flag value for m, or nil.
func (f *HRSNFlags) Get(m HRSNMapping) *string {
	if slot := f.fieldFor(m); slot != nil {
		return *slot
	}
	return nil
}

// Active returns the single set mapping, if any.
func (f *HRSNFlags) Active() (HRSNMapping, bool) {
	for _, m := range HRSNMappings {
		if f.Get(m) != nil {
			return m, true
		}
	}
	return "", false
}

// Values returns the twelve flag values in canonical column order.
func (f *HRSNFlags) Values() []*string {
	out := make([]*string, 0, len(HRSNMappings))
	for _, m := range HRSNMappings {
		out = append(out, f.Get(m))
	}
	return out
}

// Demographics carries the optional patient-level attributes used for
// stratified reporting. All fields are free-form strings at this layer.
type Demographics struct {
	AgeBucket     string `json:"age_bucket,omitempty"`
	Gender        string `json:"gender,omitempty"`
	Race          string `json:"race,omitempty"`
	Ethnicity     string `json:"ethnicity,omitempty"`
	Zip           string `json:"zip,omitempty"`
	Education     string `json:"education,omitempty"`
	VeteranStatus string `json:"veteran_status,omitempty"`
}

// Patient is immutable once inserted; conflicting inserts on
// (tenant_id, patient_id) are skipped.
type Patient struct {
	TenantID     string       `json:"tenant_id"`
	PatientID    string       `json:"patient_id"`
	DisplayName  string       `json:"display_name,omitempty"`
	Demographics Demographics `json:"demographics"`
}

// Note is one clinical note. DateOfService is a normalized ISO date
// (YYYY-MM-DD); uniqueness is (tenant_id, patient_id, date_of_service).
type Note struct {
	ID            int64  `json:"id,omitempty"`
	TenantID      string `json:"tenant_id"`
	PatientID     string `json:"patient_id"`
	DateOfService string `json:"date_of_service"`
	Text          string `json:"text"`
	ProviderID    string `json:"provider_id,omitempty"`
}

// DictionaryEntry is one row of the symptom master. Segment is matched
// case-insensitively against note text.
type DictionaryEntry struct {
	TenantID           string      `json:"tenant_id"`
	SymptomID          string      `json:"symptom_id"`
	Segment            string      `json:"segment"`
	Diagnosis          string      `json:"diagnosis,omitempty"`
	DiagnosisCode      string      `json:"diagnosis_code,omitempty"`
	DiagnosticCategory string      `json:"diagnostic_category,omitempty"`
	Kind               EntryKind   `json:"kind"`
	HRSNCode           string      `json:"hrsn_code,omitempty"`
	HRSNMapping        HRSNMapping `json:"hrsn_mapping,omitempty"`
}

// ContentKey returns the structural identity of the entry: the seven
// reconciliation-relevant attributes. Two entries with equal ContentKeys
// are exact duplicates regardless of source row order.
func (d *DictionaryEntry) ContentKey() string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		d.SymptomID, d.Segment, d.Diagnosis, d.DiagnosticCategory,
		d.Kind, d.HRSNCode, d.HRSNMapping)
}

// Mention is one detected occurrence of a dictionary segment in a note.
// Uniqueness is (tenant_id, patient_id, segment, date_of_service,
// position_in_text); MentionID is derived from that tuple and plays no
// part in conflict resolution.
type Mention struct {
	MentionID          string    `json:"mention_id"`
	TenantID           string    `json:"tenant_id"`
	PatientID          string    `json:"patient_id"`
	DateOfService      string    `json:"date_of_service"`
	SymptomID          string    `json:"symptom_id"`
	Segment            string    `json:"segment"`
	Diagnosis          string    `json:"diagnosis,omitempty"`
	DiagnosisCode      string    `json:"diagnosis_code,omitempty"`
	DiagnosticCategory string    `json:"diagnostic_category,omitempty"`
	Kind               EntryKind `json:"kind"`
	HRSNCode           string    `json:"hrsn_code"`
	PositionInText     int       `json:"position_in_text"`
	Present            string    `json:"present"`
	Detected           string    `json:"detected"`
	Validated          string    `json:"validated"`
	HRSN               HRSNFlags `json:"hrsn_flags"`
	CreatedAt          time.Time `json:"created_at"`
}

// Key returns the uniqueness tuple as a single string, suitable for
// set-equality checks and stable ID derivation.
func (m *Mention) Key() string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%d",
		m.TenantID, m.PatientID, m.Segment, m.DateOfService, m.PositionInText)
}

// JobKind enumerates background job kinds.
type JobKind string

const (
	JobUpload     JobKind = "upload"
	JobExtraction JobKind = "extraction"
)

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobProgress is the cumulative progress snapshot carried on a Job.
type JobProgress struct {
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	RatePerSec float64 `json:"rate_per_sec"`
	ETASec     float64 `json:"eta_sec"`
	Percentage float64 `json:"percentage"`
}

// Job is one background upload or extraction job.
type Job struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	Kind      JobKind     `json:"kind"`
	State     JobState    `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Progress  JobProgress `json:"progress"`
	Error     string      `json:"error,omitempty"`

	// Descriptor fields. FileName/FilePath apply to upload jobs;
	// BatchSize and DelayMS to extraction jobs.
	FileName  string `json:"file_name,omitempty"`
	FilePath  string `json:"-"`
	BatchSize int    `json:"batch_size,omitempty"`
	DelayMS   int    `json:"delay_ms,omitempty"`
}

// Clone returns a shallow copy safe to hand outside the registry lock.
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}

// ProcessStatus is the durable "latest known state" row per
// (tenant_id, process_type), read by reconnecting clients.
type ProcessStatus struct {
	TenantID       string     `json:"tenant_id"`
	ProcessType    string     `json:"process_type"`
	State          string     `json:"state"`
	Percentage     float64    `json:"percentage"`
	Message        string     `json:"message"`
	Stage          string     `json:"stage"`
	TotalItems     int        `json:"total_items,omitempty"`
	ProcessedItems int        `json:"processed_items,omitempty"`
	LastUpdate     time.Time  `json:"last_update"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// UploadRecord tracks one completed upload for audit and listing.
type UploadRecord struct {
	UploadID         string    `json:"upload_id"`
	TenantID         string    `json:"tenant_id"`
	FileName         string    `json:"file_name"`
	ProcessedRecords int       `json:"processed_records"`
	NewPatients      int       `json:"new_patients"`
	NewNotes         int       `json:"new_notes"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}
