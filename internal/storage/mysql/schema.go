package mysql

// schemaStatements creates the schema on first connect. Statements are
// idempotent and ordered parent-first so the foreign keys resolve.
// MySQL ignores inline REFERENCES clauses, so every foreign key is
// declared at table level.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS authors (
		id VARCHAR(64) NOT NULL,
		public_key VARBINARY(255),
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id),
		CONSTRAINT chk_authors_id CHECK (CHAR_LENGTH(id) = 64)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS notebooks (
		id VARCHAR(64) NOT NULL,
		name VARCHAR(200) NOT NULL,
		owner_author VARCHAR(64) NOT NULL,
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		current_sequence BIGINT NOT NULL DEFAULT 0,
		classification_level VARCHAR(16) NOT NULL DEFAULT 'PUBLIC',
		compartments JSON NOT NULL,
		review_threshold DOUBLE NOT NULL DEFAULT 0.75,
		PRIMARY KEY (id),
		CONSTRAINT fk_notebooks_owner FOREIGN KEY (owner_author) REFERENCES authors (id),
		CONSTRAINT chk_notebooks_level CHECK
			(classification_level IN ('PUBLIC','INTERNAL','CONFIDENTIAL','SECRET','TOP_SECRET')),
		CONSTRAINT chk_notebooks_threshold CHECK (review_threshold >= 0 AND review_threshold <= 1)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// The owner's implicit ADMIN is never materialized here.
	`CREATE TABLE IF NOT EXISTS notebook_access (
		notebook_id VARCHAR(64) NOT NULL,
		author_id VARCHAR(64) NOT NULL,
		tier VARCHAR(16) NOT NULL,
		trusted TINYINT(1) NOT NULL DEFAULT 0,
		granted DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		granted_by VARCHAR(64) NOT NULL DEFAULT '',
		PRIMARY KEY (notebook_id, author_id),
		CONSTRAINT fk_access_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE,
		CONSTRAINT fk_access_author FOREIGN KEY (author_id) REFERENCES authors (id),
		CONSTRAINT chk_access_tier CHECK (tier IN ('EXISTENCE','READ','READ_WRITE','ADMIN'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS entries (
		id VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		sequence BIGINT NOT NULL,
		content LONGBLOB NOT NULL,
		content_type VARCHAR(128) NOT NULL DEFAULT 'text/plain',
		original_content_type VARCHAR(128) NOT NULL DEFAULT '',
		topic VARCHAR(255) NOT NULL DEFAULT '',
		author VARCHAR(64) NOT NULL,
		signature VARBINARY(64),
		revision_of VARCHAR(64),
		refs JSON NOT NULL,
		fragment_of VARCHAR(64),
		fragment_index INT,
		claims JSON NOT NULL,
		claims_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		comparisons JSON NOT NULL,
		max_friction DOUBLE,
		needs_review TINYINT(1) NOT NULL DEFAULT 0,
		embedding MEDIUMBLOB,
		expected_comparisons INT NOT NULL DEFAULT 0,
		completed_comparisons INT NOT NULL DEFAULT 0,
		integration_status VARCHAR(16) NOT NULL DEFAULT 'probation',
		review_status VARCHAR(16) NOT NULL DEFAULT 'approved',
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id),
		UNIQUE KEY uq_entries_notebook_sequence (notebook_id, sequence),
		KEY idx_entries_notebook_topic (notebook_id, topic),
		KEY idx_entries_notebook_claims_status (notebook_id, claims_status),
		KEY idx_entries_fragment_of (fragment_of),
		KEY idx_entries_revision_of (revision_of),
		CONSTRAINT fk_entries_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE,
		CONSTRAINT fk_entries_author FOREIGN KEY (author) REFERENCES authors (id),
		CONSTRAINT fk_entries_revision FOREIGN KEY (revision_of) REFERENCES entries (id),
		CONSTRAINT fk_entries_fragment FOREIGN KEY (fragment_of) REFERENCES entries (id) ON DELETE CASCADE,
		CONSTRAINT chk_entries_sequence CHECK (sequence > 0),
		CONSTRAINT chk_entries_claims_status CHECK (claims_status IN ('pending','distilled','verified')),
		CONSTRAINT chk_entries_integration CHECK (integration_status IN ('probation','integrated','orphan')),
		CONSTRAINT chk_entries_review CHECK (review_status IN ('approved','pending','rejected')),
		CONSTRAINT chk_entries_fragment_pair CHECK ((fragment_of IS NULL) = (fragment_index IS NULL)),
		CONSTRAINT chk_entries_fragment_index CHECK (fragment_index IS NULL OR fragment_index >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		payload JSON NOT NULL,
		result JSON,
		error TEXT NOT NULL DEFAULT (''),
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		claimed_at DATETIME(6),
		claimed_by VARCHAR(128) NOT NULL DEFAULT '',
		completed_at DATETIME(6),
		timeout_seconds INT NOT NULL DEFAULT 120,
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		priority INT NOT NULL DEFAULT 0,
		PRIMARY KEY (id),
		KEY idx_jobs_claim (notebook_id, status, priority DESC, created),
		KEY idx_jobs_reclaim (status, claimed_at),
		CONSTRAINT fk_jobs_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE,
		CONSTRAINT chk_jobs_type CHECK
			(type IN ('DISTILL_CLAIMS','EMBED_CLAIMS','EMBED_MIRRORED','COMPARE_CLAIMS','CLASSIFY_TOPIC')),
		CONSTRAINT chk_jobs_status CHECK (status IN ('pending','in_progress','completed','failed')),
		CONSTRAINT chk_jobs_timeout CHECK (timeout_seconds > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// source_notebook carries no foreign key: mirrors must survive
	// source deletion as tombstones.
	`CREATE TABLE IF NOT EXISTS notebook_subscriptions (
		id VARCHAR(64) NOT NULL,
		subscriber_notebook VARCHAR(64) NOT NULL,
		source_notebook VARCHAR(64) NOT NULL,
		scope VARCHAR(16) NOT NULL DEFAULT 'claims',
		topic_filter VARCHAR(255) NOT NULL DEFAULT '',
		discount_factor DOUBLE NOT NULL DEFAULT 1.0,
		poll_interval_seconds INT NOT NULL DEFAULT 60,
		watermark BIGINT NOT NULL DEFAULT 0,
		sync_status VARCHAR(16) NOT NULL DEFAULT 'active',
		sync_error TEXT NOT NULL DEFAULT (''),
		mirrored_count BIGINT NOT NULL DEFAULT 0,
		approved_by VARCHAR(64) NOT NULL DEFAULT '',
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		last_sync_at DATETIME(6),
		PRIMARY KEY (id),
		UNIQUE KEY uq_subscriptions_pair (subscriber_notebook, source_notebook),
		KEY idx_subscriptions_source (source_notebook),
		CONSTRAINT fk_subscriptions_subscriber FOREIGN KEY (subscriber_notebook) REFERENCES notebooks (id) ON DELETE CASCADE,
		CONSTRAINT chk_subscriptions_scope CHECK (scope IN ('catalog','claims','entries')),
		CONSTRAINT chk_subscriptions_discount CHECK (discount_factor > 0 AND discount_factor <= 1),
		CONSTRAINT chk_subscriptions_interval CHECK (poll_interval_seconds >= 10),
		CONSTRAINT chk_subscriptions_status CHECK (sync_status IN ('active','paused','error'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS mirrored_claims (
		id VARCHAR(64) NOT NULL,
		subscription_id VARCHAR(64) NOT NULL,
		source_entry_id VARCHAR(64) NOT NULL,
		source_notebook VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		claims JSON NOT NULL,
		topic VARCHAR(255) NOT NULL DEFAULT '',
		embedding MEDIUMBLOB,
		discount_factor DOUBLE NOT NULL DEFAULT 1.0,
		source_sequence BIGINT NOT NULL DEFAULT 0,
		tombstoned TINYINT(1) NOT NULL DEFAULT 0,
		mirrored_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id),
		UNIQUE KEY uq_mirrored_claims_source (subscription_id, source_entry_id),
		KEY idx_mirrored_claims_notebook (notebook_id, tombstoned),
		KEY idx_mirrored_claims_source (source_notebook),
		CONSTRAINT fk_mirrored_claims_subscription FOREIGN KEY (subscription_id)
			REFERENCES notebook_subscriptions (id) ON DELETE CASCADE,
		CONSTRAINT fk_mirrored_claims_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// Full-content shadows for scope='entries'.
	`CREATE TABLE IF NOT EXISTS mirrored_entries (
		id VARCHAR(64) NOT NULL,
		subscription_id VARCHAR(64) NOT NULL,
		source_entry_id VARCHAR(64) NOT NULL,
		source_notebook VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		content LONGBLOB NOT NULL,
		content_type VARCHAR(128) NOT NULL DEFAULT 'text/plain',
		topic VARCHAR(255) NOT NULL DEFAULT '',
		author VARCHAR(64) NOT NULL DEFAULT '',
		source_sequence BIGINT NOT NULL DEFAULT 0,
		tombstoned TINYINT(1) NOT NULL DEFAULT 0,
		mirrored_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (id),
		UNIQUE KEY uq_mirrored_entries_source (subscription_id, source_entry_id),
		KEY idx_mirrored_entries_source (source_notebook),
		CONSTRAINT fk_mirrored_entries_subscription FOREIGN KEY (subscription_id)
			REFERENCES notebook_subscriptions (id) ON DELETE CASCADE,
		CONSTRAINT fk_mirrored_entries_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS entry_reviews (
		entry_id VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		submitted_by VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		reason TEXT NOT NULL,
		decided_by VARCHAR(64) NOT NULL DEFAULT '',
		decided_at DATETIME(6),
		created DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (entry_id),
		KEY idx_entry_reviews_notebook (notebook_id, status),
		CONSTRAINT fk_reviews_entry FOREIGN KEY (entry_id) REFERENCES entries (id) ON DELETE CASCADE,
		CONSTRAINT fk_reviews_notebook FOREIGN KEY (notebook_id) REFERENCES notebooks (id) ON DELETE CASCADE,
		CONSTRAINT chk_reviews_status CHECK (status IN ('approved','pending','rejected'))
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT NOT NULL AUTO_INCREMENT,
		time DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		notebook_id VARCHAR(64) NOT NULL DEFAULT '',
		author VARCHAR(64) NOT NULL DEFAULT '',
		action VARCHAR(64) NOT NULL,
		target_type VARCHAR(32) NOT NULL DEFAULT '',
		target_id VARCHAR(64) NOT NULL DEFAULT '',
		detail JSON NOT NULL,
		ip VARCHAR(64) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL,
		PRIMARY KEY (id),
		KEY idx_audit_notebook_time (notebook_id, time)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS author_quotas (
		author_id VARCHAR(64) NOT NULL,
		max_entries_per_notebook BIGINT NOT NULL DEFAULT 0,
		max_entry_size_bytes BIGINT NOT NULL DEFAULT 0,
		max_jobs_inflight BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (author_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// Full-text shadow of entries. The sqlite backend maintains its FTS
	// table with triggers; here the store writes both rows in the same
	// transaction. content_text is the utf8mb4-coerced rendering of the
	// exact bytes kept on the entry row.
	`CREATE TABLE IF NOT EXISTS entries_search (
		id VARCHAR(64) NOT NULL,
		notebook_id VARCHAR(64) NOT NULL,
		content_text MEDIUMTEXT NOT NULL,
		topic VARCHAR(255) NOT NULL DEFAULT '',
		PRIMARY KEY (id),
		FULLTEXT KEY ft_entries_search (content_text, topic),
		CONSTRAINT fk_entries_search_entry FOREIGN KEY (id) REFERENCES entries (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
