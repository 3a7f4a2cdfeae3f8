package database

// migrations holds the ordered, idempotent schema migrations. Each entry is
// applied at most once, tracked in schema_migrations.
var migrations = []migration{
	{
		Name: "001_sources",
		SQL: `
			CREATE TABLE IF NOT EXISTS sources (
				id UUID PRIMARY KEY,
				host TEXT NOT NULL,
				canonical_name TEXT NOT NULL,
				dataset TEXT NOT NULL DEFAULT '',
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_sources_host ON sources (host);
			CREATE INDEX IF NOT EXISTS idx_sources_dataset ON sources (dataset);
		`,
	},
	{
		Name: "002_candidate_links",
		SQL: `
			CREATE TABLE IF NOT EXISTS candidate_links (
				id UUID PRIMARY KEY,
				source_id UUID NOT NULL REFERENCES sources (id),
				url TEXT NOT NULL UNIQUE,
				host TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'discovered'
					CHECK (status IN ('discovered', 'verified', 'article', 'claimed',
						'extracted', 'not_article', 'verify_failed', 'paused')),
				discovered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				verified_at TIMESTAMPTZ,
				claimed_at TIMESTAMPTZ,
				error_count INT NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_candidate_links_status_discovered
				ON candidate_links (status, discovered_at);
			CREATE INDEX IF NOT EXISTS idx_candidate_links_host
				ON candidate_links (host) WHERE status = 'article';
		`,
	},
	{
		Name: "003_articles",
		SQL: `
			CREATE TABLE IF NOT EXISTS articles (
				id UUID PRIMARY KEY,
				candidate_link_id UUID NOT NULL REFERENCES candidate_links (id),
				url TEXT NOT NULL UNIQUE,
				title TEXT NOT NULL DEFAULT '',
				text TEXT,
				authors TEXT[] NOT NULL DEFAULT '{}',
				published_at TIMESTAMPTZ,
				status TEXT NOT NULL DEFAULT 'extracted'
					CHECK (status IN ('extracted', 'cleaned', 'local', 'wire',
						'labeled', 'paused')),
				status_reason TEXT,
				extracted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				extraction_method TEXT NOT NULL DEFAULT '',
				proxy_status TEXT
					CHECK (proxy_status IN ('success', 'failed', 'bypassed', 'disabled')),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_articles_status_extracted
				ON articles (status, extracted_at);
		`,
	},
	{
		Name: "004_discovery_method_effectiveness",
		SQL: `
			CREATE TABLE IF NOT EXISTS discovery_method_effectiveness (
				id UUID PRIMARY KEY,
				source_id UUID NOT NULL REFERENCES sources (id),
				method TEXT NOT NULL
					CHECK (method IN ('rss_feed', 'template_parser', 'homepage_classifier')),
				status TEXT NOT NULL
					CHECK (status IN ('success', 'no_feed', 'timeout', 'connection_error',
						'parse_error', 'blocked', 'server_error', 'skipped')),
				articles_found INT NOT NULL DEFAULT 0,
				success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				attempt_count INT NOT NULL DEFAULT 0,
				avg_response_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
				last_status_code INT,
				last_attempted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (source_id, method)
			);
		`,
	},
	{
		Name: "005_http_status_tracking",
		SQL: `
			CREATE TABLE IF NOT EXISTS http_status_tracking (
				id UUID PRIMARY KEY,
				source_id UUID NOT NULL REFERENCES sources (id),
				url TEXT NOT NULL,
				status_code INT NOT NULL,
				method TEXT NOT NULL DEFAULT '',
				response_ms BIGINT NOT NULL DEFAULT 0,
				observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_http_status_source
				ON http_status_tracking (source_id, observed_at);
		`,
	},
	{
		Name: "006_discovery_outcomes",
		SQL: `
			CREATE TABLE IF NOT EXISTS discovery_outcomes (
				id UUID PRIMARY KEY,
				source_id UUID NOT NULL REFERENCES sources (id),
				method TEXT NOT NULL,
				status TEXT NOT NULL,
				links_found INT NOT NULL DEFAULT 0,
				links_inserted INT NOT NULL DEFAULT 0,
				elapsed_ms BIGINT NOT NULL DEFAULT 0,
				ran_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_discovery_outcomes_source
				ON discovery_outcomes (source_id, ran_at);
		`,
	},
}
