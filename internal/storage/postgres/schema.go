package postgres

const schema = `
-- Deflection jobs (durable queue)
CREATE TABLE IF NOT EXISTS deflection_jobs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    ticket_id TEXT NOT NULL,
    conversation_ref TEXT NOT NULL DEFAULT '',
    ticket JSONB NOT NULL,
    event_payload JSONB,
    priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('high', 'normal', 'low')),
    priority_rank INTEGER NOT NULL DEFAULT 2,
    max_retries INTEGER NOT NULL DEFAULT 3 CHECK(max_retries >= 0),
    retry_count INTEGER NOT NULL DEFAULT 0 CHECK(retry_count >= 0),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'processing', 'completed', 'failed', 'retrying')),
    claimed_by TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    scheduled_at TIMESTAMPTZ NOT NULL,
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    error_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    result JSONB
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON deflection_jobs(priority_rank DESC, created_at)
    WHERE status IN ('pending', 'retrying');
CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON deflection_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON deflection_jobs(completed_at)
    WHERE status IN ('completed', 'failed');

-- Per-tenant deflection settings
CREATE TABLE IF NOT EXISTS tenant_settings (
    tenant_id TEXT PRIMARY KEY,
    settings JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

-- Prior analyses for the similarity index
CREATE TABLE IF NOT EXISTS prior_analyses (
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    category TEXT NOT NULL,
    sentiment TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    reply TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, ticket_id)
);

CREATE INDEX IF NOT EXISTS idx_prior_analyses_created ON prior_analyses(tenant_id, created_at DESC);

-- Issued decisions
CREATE TABLE IF NOT EXISTS decisions (
    id BIGSERIAL PRIMARY KEY,
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    conversation_ref TEXT NOT NULL DEFAULT '',
    job_id TEXT NOT NULL DEFAULT '',
    should_respond BOOLEAN NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    response_type TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    tokens_used BIGINT NOT NULL DEFAULT 0,
    decided_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_ticket ON decisions(ticket_id, decided_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_conversation ON decisions(tenant_id, conversation_ref);

-- Feedback and per-category aggregates
CREATE TABLE IF NOT EXISTS feedback (
    id BIGSERIAL PRIMARY KEY,
    ticket_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    satisfied BOOLEAN NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS category_stats (
    tenant_id TEXT NOT NULL,
    category TEXT NOT NULL,
    positive INTEGER NOT NULL DEFAULT 0,
    negative INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, category)
);

-- Job events (structured operational log)
CREATE TABLE IF NOT EXISTS job_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    job_id TEXT NOT NULL DEFAULT '',
    tenant_id TEXT NOT NULL DEFAULT '',
    instance_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);
CREATE INDEX IF NOT EXISTS idx_job_events_timestamp ON job_events(timestamp);
`
