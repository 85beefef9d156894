package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS crawl_jobs (
	crawl_id          TEXT PRIMARY KEY,
	root_url          TEXT NOT NULL,
	scope_domain      TEXT NOT NULL,
	max_distance      INTEGER NOT NULL,
	max_seconds       INTEGER NOT NULL,
	max_urls          INTEGER NOT NULL,
	start_time        TIMESTAMPTZ NOT NULL,
	last_modified     TIMESTAMPTZ NOT NULL,
	num_pages         BIGINT NOT NULL DEFAULT 0,
	max_distance_seen INTEGER NOT NULL DEFAULT 0,
	stop_reason       TEXT NOT NULL,
	status            TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS crawl_claims (
	crawl_id   TEXT NOT NULL,
	url        TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (crawl_id, url)
)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
