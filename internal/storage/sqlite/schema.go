package sqlite

const schema = `
-- Authors table
CREATE TABLE IF NOT EXISTS authors (
    id TEXT PRIMARY KEY CHECK(length(id) = 64),
    public_key BLOB,
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Notebooks table
CREATE TABLE IF NOT EXISTS notebooks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL CHECK(length(name) <= 200),
    owner_author TEXT NOT NULL REFERENCES authors(id),
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    current_sequence INTEGER NOT NULL DEFAULT 0,
    classification_level TEXT NOT NULL DEFAULT 'PUBLIC'
        CHECK(classification_level IN ('PUBLIC','INTERNAL','CONFIDENTIAL','SECRET','TOP_SECRET')),
    compartments TEXT NOT NULL DEFAULT '[]',
    review_threshold REAL NOT NULL DEFAULT 0.75
        CHECK(review_threshold >= 0 AND review_threshold <= 1)
);

-- Access grants; the owner's implicit ADMIN is never materialized
CREATE TABLE IF NOT EXISTS notebook_access (
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    author_id TEXT NOT NULL REFERENCES authors(id),
    tier TEXT NOT NULL CHECK(tier IN ('EXISTENCE','READ','READ_WRITE','ADMIN')),
    trusted INTEGER NOT NULL DEFAULT 0,
    granted DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    granted_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (notebook_id, author_id)
);

-- Entries table
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    sequence INTEGER NOT NULL CHECK(sequence > 0),
    content BLOB NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'text/plain',
    original_content_type TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL REFERENCES authors(id),
    signature BLOB,
    revision_of TEXT REFERENCES entries(id),
    refs TEXT NOT NULL DEFAULT '[]',
    fragment_of TEXT REFERENCES entries(id) ON DELETE CASCADE,
    fragment_index INTEGER,
    claims TEXT NOT NULL DEFAULT '[]',
    claims_status TEXT NOT NULL DEFAULT 'pending'
        CHECK(claims_status IN ('pending','distilled','verified')),
    comparisons TEXT NOT NULL DEFAULT '[]',
    max_friction REAL,
    needs_review INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    expected_comparisons INTEGER NOT NULL DEFAULT 0,
    completed_comparisons INTEGER NOT NULL DEFAULT 0,
    integration_status TEXT NOT NULL DEFAULT 'probation'
        CHECK(integration_status IN ('probation','integrated','orphan')),
    review_status TEXT NOT NULL DEFAULT 'approved'
        CHECK(review_status IN ('approved','pending','rejected')),
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (notebook_id, sequence),
    CHECK ((fragment_of IS NULL) = (fragment_index IS NULL)),
    CHECK (fragment_index IS NULL OR fragment_index >= 0)
);

CREATE INDEX IF NOT EXISTS idx_entries_notebook_topic ON entries(notebook_id, topic);
CREATE INDEX IF NOT EXISTS idx_entries_notebook_claims_status ON entries(notebook_id, claims_status);
CREATE INDEX IF NOT EXISTS idx_entries_fragment_of ON entries(fragment_of);
CREATE INDEX IF NOT EXISTS idx_entries_revision_of ON entries(revision_of);

-- Jobs table
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    type TEXT NOT NULL
        CHECK(type IN ('DISTILL_CLAIMS','EMBED_CLAIMS','EMBED_MIRRORED','COMPARE_CLAIMS','CLASSIFY_TOPIC')),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending','in_progress','completed','failed')),
    payload TEXT NOT NULL DEFAULT '{}',
    result TEXT,
    error TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    claimed_at DATETIME,
    claimed_by TEXT NOT NULL DEFAULT '',
    completed_at DATETIME,
    timeout_seconds INTEGER NOT NULL DEFAULT 120 CHECK(timeout_seconds > 0),
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    priority INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(notebook_id, status, priority DESC, created);
CREATE INDEX IF NOT EXISTS idx_jobs_reclaim ON jobs(status, claimed_at);

-- Subscriptions. source_notebook carries no foreign key: mirrors must
-- survive source deletion as tombstones.
CREATE TABLE IF NOT EXISTS notebook_subscriptions (
    id TEXT PRIMARY KEY,
    subscriber_notebook TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    source_notebook TEXT NOT NULL,
    scope TEXT NOT NULL DEFAULT 'claims' CHECK(scope IN ('catalog','claims','entries')),
    topic_filter TEXT NOT NULL DEFAULT '',
    discount_factor REAL NOT NULL DEFAULT 1.0 CHECK(discount_factor > 0 AND discount_factor <= 1),
    poll_interval_seconds INTEGER NOT NULL DEFAULT 60 CHECK(poll_interval_seconds >= 10),
    watermark INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'active' CHECK(sync_status IN ('active','paused','error')),
    sync_error TEXT NOT NULL DEFAULT '',
    mirrored_count INTEGER NOT NULL DEFAULT 0,
    approved_by TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_sync_at DATETIME,
    UNIQUE (subscriber_notebook, source_notebook)
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_source ON notebook_subscriptions(source_notebook);

-- Mirrored claims: per-subscription shadows of source entries
CREATE TABLE IF NOT EXISTS mirrored_claims (
    id TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL REFERENCES notebook_subscriptions(id) ON DELETE CASCADE,
    source_entry_id TEXT NOT NULL,
    source_notebook TEXT NOT NULL,
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    claims TEXT NOT NULL DEFAULT '[]',
    topic TEXT NOT NULL DEFAULT '',
    embedding BLOB,
    discount_factor REAL NOT NULL DEFAULT 1.0,
    source_sequence INTEGER NOT NULL DEFAULT 0,
    tombstoned INTEGER NOT NULL DEFAULT 0,
    mirrored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (subscription_id, source_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_mirrored_claims_notebook ON mirrored_claims(notebook_id, tombstoned);
CREATE INDEX IF NOT EXISTS idx_mirrored_claims_source ON mirrored_claims(source_notebook);

-- Mirrored entries: full-content shadows for scope='entries'
CREATE TABLE IF NOT EXISTS mirrored_entries (
    id TEXT PRIMARY KEY,
    subscription_id TEXT NOT NULL REFERENCES notebook_subscriptions(id) ON DELETE CASCADE,
    source_entry_id TEXT NOT NULL,
    source_notebook TEXT NOT NULL,
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    content BLOB NOT NULL,
    content_type TEXT NOT NULL DEFAULT 'text/plain',
    topic TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    source_sequence INTEGER NOT NULL DEFAULT 0,
    tombstoned INTEGER NOT NULL DEFAULT 0,
    mirrored_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (subscription_id, source_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_mirrored_entries_source ON mirrored_entries(source_notebook);

-- Review records
CREATE TABLE IF NOT EXISTS entry_reviews (
    entry_id TEXT PRIMARY KEY REFERENCES entries(id) ON DELETE CASCADE,
    notebook_id TEXT NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
    submitted_by TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('approved','pending','rejected')),
    reason TEXT NOT NULL DEFAULT '',
    decided_by TEXT NOT NULL DEFAULT '',
    decided_at DATETIME,
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entry_reviews_notebook ON entry_reviews(notebook_id, status);

-- Append-only audit log
CREATE TABLE IF NOT EXISTS audit_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    notebook_id TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    target_type TEXT NOT NULL DEFAULT '',
    target_id TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '{}',
    ip TEXT NOT NULL DEFAULT '',
    user_agent TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_notebook_time ON audit_log(notebook_id, time);

-- Author quotas, consulted read-only by the writer
CREATE TABLE IF NOT EXISTS author_quotas (
    author_id TEXT PRIMARY KEY,
    max_entries_per_notebook INTEGER NOT NULL DEFAULT 0,
    max_entry_size_bytes INTEGER NOT NULL DEFAULT 0,
    max_jobs_inflight INTEGER NOT NULL DEFAULT 0
);

-- Trigram full-text index over entry content and topic
CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
    id UNINDEXED,
    notebook_id UNINDEXED,
    content,
    topic,
    tokenize='trigram'
);

CREATE TRIGGER IF NOT EXISTS entries_fts_insert AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(id, notebook_id, content, topic)
    VALUES (new.id, new.notebook_id, new.content, new.topic);
END;

CREATE TRIGGER IF NOT EXISTS entries_fts_delete AFTER DELETE ON entries BEGIN
    DELETE FROM entries_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS entries_fts_topic_update AFTER UPDATE OF topic ON entries BEGIN
    UPDATE entries_fts SET topic = new.topic WHERE id = old.id;
END;
`
