package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "items: scorable content items",
		SQL: `
CREATE TABLE items (
    id            INTEGER PRIMARY KEY,
    kind          TEXT NOT NULL CHECK (kind IN ('article', 'project', 'illustration')),
    title         TEXT NOT NULL DEFAULT '',
    excerpt       TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'publish' CHECK (status IN ('publish', 'draft', 'private', 'trash')),
    show_in_graph INTEGER NOT NULL DEFAULT 1,
    published_at  INTEGER,

    -- kind-specific metadata, JSON object of strings
    attributes    TEXT NOT NULL DEFAULT '{}',

    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE INDEX idx_items_eligible ON items(status, show_in_graph);
CREATE INDEX idx_items_kind     ON items(kind);
`,
	},
	{
		Version:     2,
		Description: "item_terms: taxonomy membership",
		SQL: `
CREATE TABLE item_terms (
    item_id  INTEGER NOT NULL,
    taxonomy TEXT NOT NULL,
    term_id  INTEGER NOT NULL,
    name     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (item_id, taxonomy, term_id),
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX idx_terms_taxonomy ON item_terms(taxonomy, term_id);
`,
	},
	{
		Version:     3,
		Description: "link_sets: persisted related-content edges per item",
		SQL: `
CREATE TABLE link_sets (
    item_id            INTEGER PRIMARY KEY,
    auto_links         TEXT NOT NULL DEFAULT '[]',
    manual_links       TEXT NOT NULL DEFAULT '[]',
    effective_links    TEXT NOT NULL DEFAULT '[]',
    last_calculated_at INTEGER,
    FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
);

CREATE INDEX idx_links_calculated ON link_sets(last_calculated_at);
`,
	},
	{
		Version:     4,
		Description: "sweep_runs: batch recalculation history",
		SQL: `
CREATE TABLE sweep_runs (
    id                      TEXT PRIMARY KEY,
    trigger_kind            TEXT NOT NULL,
    started_at              INTEGER NOT NULL,
    total_processed         INTEGER NOT NULL DEFAULT 0,
    total_links_created     INTEGER NOT NULL DEFAULT 0,
    processing_time_seconds REAL NOT NULL DEFAULT 0,
    errors                  TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX idx_sweeps_started_at ON sweep_runs(started_at DESC);
`,
	},
	{
		Version:     5,
		Description: "cache_generation: cross-process view cache invalidation",
		SQL: `
CREATE TABLE cache_generation (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    generation INTEGER NOT NULL
);

INSERT INTO cache_generation (id, generation) VALUES (1, 0);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
