package sqlite

const schema = `
-- Patients table. Immutable after first insert; conflicting uploads skip.
CREATE TABLE IF NOT EXISTS patients (
    tenant_id TEXT NOT NULL,
    patient_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    age_bucket TEXT NOT NULL DEFAULT '',
    gender TEXT NOT NULL DEFAULT '',
    race TEXT NOT NULL DEFAULT '',
    ethnicity TEXT NOT NULL DEFAULT '',
    zip TEXT NOT NULL DEFAULT '',
    education TEXT NOT NULL DEFAULT '',
    veteran_status TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, patient_id)
);

-- Notes table. One row per (tenant, patient, date of service).
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    patient_id TEXT NOT NULL,
    date_of_service TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    provider_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant_id, patient_id, date_of_service)
);

CREATE INDEX IF NOT EXISTS idx_notes_tenant ON notes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_notes_tenant_patient ON notes(tenant_id, patient_id);

-- Symptom master dictionary.
CREATE TABLE IF NOT EXISTS dictionary (
    tenant_id TEXT NOT NULL,
    symptom_id TEXT NOT NULL,
    segment TEXT NOT NULL,
    diagnosis TEXT NOT NULL DEFAULT '',
    diagnosis_code TEXT NOT NULL DEFAULT '',
    diagnostic_category TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT 'Symptom',
    hrsn_code TEXT NOT NULL DEFAULT '',
    hrsn_mapping TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, symptom_id)
);

-- Mentions table. One row per detected occurrence; the five-column
-- uniqueness key is the sole idempotency mechanism (mention_id is
-- derived from it and never used for conflict resolution).
CREATE TABLE IF NOT EXISTS mentions (
    mention_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    patient_id TEXT NOT NULL,
    date_of_service TEXT NOT NULL,
    symptom_id TEXT NOT NULL DEFAULT '',
    segment TEXT NOT NULL,
    diagnosis TEXT NOT NULL DEFAULT '',
    diagnosis_code TEXT NOT NULL DEFAULT '',
    diagnostic_category TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT 'Symptom',
    hrsn_code TEXT NOT NULL DEFAULT 'No',
    position_in_text INTEGER NOT NULL CHECK(position_in_text >= 0),
    present TEXT NOT NULL DEFAULT 'Yes',
    detected TEXT NOT NULL DEFAULT 'Yes',
    validated TEXT NOT NULL DEFAULT 'Yes',
    housing_status TEXT,
    food_status TEXT,
    financial_status TEXT,
    transportation_needs TEXT,
    has_a_car TEXT,
    utility_insecurity TEXT,
    childcare_needs TEXT,
    elder_care_needs TEXT,
    employment_status TEXT,
    education_needs TEXT,
    legal_needs TEXT,
    social_isolation TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant_id, patient_id, segment, date_of_service, position_in_text)
);

CREATE INDEX IF NOT EXISTS idx_mentions_tenant ON mentions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_mentions_tenant_patient ON mentions(tenant_id, patient_id);

-- Durable latest-known process state per (tenant, process type).
CREATE TABLE IF NOT EXISTS process_status (
    tenant_id TEXT NOT NULL,
    process_type TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT '',
    percentage REAL NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL DEFAULT '',
    total_items INTEGER NOT NULL DEFAULT 0,
    processed_items INTEGER NOT NULL DEFAULT 0,
    last_update DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    start_time DATETIME,
    end_time DATETIME,
    error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, process_type)
);

-- Job history, mirrored write-through from the in-process registry.
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    state TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    started_at DATETIME,
    ended_at DATETIME,
    processed INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    rate_per_sec REAL NOT NULL DEFAULT 0,
    eta_sec REAL NOT NULL DEFAULT 0,
    percentage REAL NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id);

-- Upload audit records.
CREATE TABLE IF NOT EXISTS upload_tracking (
    upload_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    file_name TEXT NOT NULL DEFAULT '',
    processed_records INTEGER NOT NULL DEFAULT 0,
    new_patients INTEGER NOT NULL DEFAULT 0,
    new_notes INTEGER NOT NULL DEFAULT 0,
    started_at DATETIME NOT NULL,
    ended_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_upload_tracking_tenant ON upload_tracking(tenant_id);
`
