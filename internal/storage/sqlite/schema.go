package sqlite

import "github.com/steveyegge/deflect/internal/storage/migrations"

// schemaMigrations is the versioned SQLite schema. Append new versions;
// never edit one that has shipped.
var schemaMigrations = migrations.NewManager(
	migrations.Migration{
		Version:     1,
		Description: "deflection jobs, tenant settings, analyses, decisions, feedback and events",
		Up:          schemaV1,
		Down:        dropSchemaV1,
	},
	migrations.Migration{
		Version:     2,
		Description: "index job events by severity and time for retention cleanup",
		Up:          `CREATE INDEX IF NOT EXISTS idx_job_events_severity_timestamp ON job_events(severity, timestamp)`,
		Down:        `DROP INDEX IF EXISTS idx_job_events_severity_timestamp`,
	},
)

// All timestamps are stored as INTEGER unix milliseconds.
const schemaV1 = `
-- Deflection jobs (durable queue)
CREATE TABLE IF NOT EXISTS deflection_jobs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    ticket_id TEXT NOT NULL,
    conversation_ref TEXT NOT NULL DEFAULT '',
    ticket TEXT NOT NULL,
    event_payload TEXT,
    priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('high', 'normal', 'low')),
    priority_rank INTEGER NOT NULL DEFAULT 2,
    max_retries INTEGER NOT NULL DEFAULT 3 CHECK(max_retries >= 0),
    retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'retrying')),
    claimed_by TEXT,
    created_at INTEGER NOT NULL,
    scheduled_at INTEGER NOT NULL,
    started_at INTEGER,
    completed_at INTEGER,
    error_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    result TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON deflection_jobs(status, scheduled_at, priority_rank DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON deflection_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_jobs_ticket ON deflection_jobs(ticket_id);
CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON deflection_jobs(completed_at);

-- Per-tenant deflection settings
CREATE TABLE IF NOT EXISTS tenant_settings (
    tenant_id TEXT PRIMARY KEY,
    settings TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Prior analyses for the similarity index
CREATE TABLE IF NOT EXISTS prior_analyses (
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    category TEXT NOT NULL,
    sentiment TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    confidence REAL NOT NULL,
    reply TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, ticket_id)
);

CREATE INDEX IF NOT EXISTS idx_prior_analyses_created ON prior_analyses(tenant_id, created_at DESC);

-- Issued decisions
CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    conversation_ref TEXT NOT NULL DEFAULT '',
    job_id TEXT NOT NULL DEFAULT '',
    should_respond INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    response_type TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    cost_usd REAL NOT NULL DEFAULT 0,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    decided_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_ticket ON decisions(ticket_id, decided_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(tenant_id, conversation_ref);

-- Feedback and per-category aggregates
CREATE TABLE IF NOT EXISTS feedback (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    satisfied INTEGER NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS category_stats (
    tenant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    positive INTEGER NOT NULL DEFAULT 0,
    negative INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, category)
);

-- Job events (structured operational log)
CREATE TABLE IF NOT EXISTS job_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    job_id TEXT NOT NULL DEFAULT '',
    tenant_id TEXT NOT NULL DEFAULT '',
    instance_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    data TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);
CREATE INDEX IF NOT EXISTS idx_job_events_timestamp ON job_events(timestamp);
`

const dropSchemaV1 = `
DROP TABLE IF EXISTS job_events;
DROP TABLE IF EXISTS category_stats;
DROP TABLE IF EXISTS feedback;
DROP TABLE IF EXISTS decisions;
DROP TABLE IF EXISTS prior_analyses;
DROP TABLE IF EXISTS tenant_settings;
DROP TABLE IF EXISTS deflection_jobs;
`
