package storage

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// SchemaVersion is the current run catalog schema version.
const SchemaVersion = "1.0"

// CreateSchema creates all catalog tables and indexes.
// Uses a transaction so schema creation succeeds or fails as a whole.
//
// Schema includes:
//   - runs: one row per finished run
//   - run_stats: per-family attempted/succeeded/failed counts
//   - run_failures: the failure ledger of each run
//   - footprints: the GeoJSON feature of every successful extraction
//   - catalog_metadata: schema version
//
// Must be called with SQLite PRAGMA foreign_keys = ON.
func CreateSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin schema transaction")
	}
	defer tx.Rollback() // Safe to call even after commit

	tables := []struct {
		name string
		ddl  string
	}{
		{"catalog_metadata", createMetadataTable},
		{"runs", createRunsTable},
		{"run_stats", createRunStatsTable},
		{"run_failures", createRunFailuresTable},
		{"footprints", createFootprintsTable},
	}
	for _, table := range tables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return errors.Wrapf(err, "failed to create %s table", table.name)
		}
	}

	for i, idx := range allIndexes {
		if _, err := tx.Exec(idx); err != nil {
			return errors.Wrapf(err, "failed to create index %d", i+1)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`INSERT INTO catalog_metadata (key, value, updated_at) VALUES ('schema_version', ?, ?)`, SchemaVersion, now); err != nil {
		return errors.Wrap(err, "failed to bootstrap catalog_metadata")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit schema transaction")
	}
	return nil
}

// GetSchemaVersion retrieves the schema version from catalog_metadata.
// Returns "0" if the table doesn't exist (new database).
func GetSchemaVersion(db *sql.DB) (string, error) {
	var tableExists int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='catalog_metadata'").Scan(&tableExists)
	if err != nil {
		return "", errors.Wrap(err, "failed to check catalog_metadata existence")
	}
	if tableExists == 0 {
		return "0", nil
	}

	var version string
	err = db.QueryRow("SELECT value FROM catalog_metadata WHERE key = 'schema_version'").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("schema_version key not found in catalog_metadata")
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to query schema version")
	}
	return version, nil
}

const createMetadataTable = `
CREATE TABLE catalog_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
)
`

const createRunsTable = `
CREATE TABLE runs (
    run_id TEXT PRIMARY KEY,                     -- uuid
    root TEXT NOT NULL,                          -- absolute search root
    started_at TEXT NOT NULL,                    -- RFC 3339, nanoseconds
    finished_at TEXT NOT NULL,
    elapsed_ns INTEGER NOT NULL,
    cancelled INTEGER NOT NULL DEFAULT 0,        -- Boolean
    skipped INTEGER NOT NULL DEFAULT 0,          -- candidate paths left unprocessed
    target_crs TEXT NOT NULL DEFAULT '',         -- CRS of the aggregates, '' when none
    features INTEGER NOT NULL DEFAULT 0
)
`

const createRunStatsTable = `
CREATE TABLE run_stats (
    run_id TEXT NOT NULL,
    family TEXT NOT NULL,
    attempted INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, family),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
)
`

const createRunFailuresTable = `
CREATE TABLE run_failures (
    failure_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    layer TEXT NOT NULL DEFAULT '',
    family TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    occurred_at TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
)
`

const createFootprintsTable = `
CREATE TABLE footprints (
    run_id TEXT NOT NULL,
    uid TEXT NOT NULL,                           -- stable across runs
    path TEXT NOT NULL,
    layer TEXT NOT NULL DEFAULT '',
    family TEXT NOT NULL,
    crs TEXT NOT NULL,
    valid INTEGER NOT NULL,
    feature TEXT NOT NULL,                       -- GeoJSON feature, native CRS
    PRIMARY KEY (run_id, uid),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
)
`

var allIndexes = []string{
	"CREATE INDEX idx_runs_started ON runs(started_at)",
	"CREATE INDEX idx_run_failures_run ON run_failures(run_id, kind)",
	"CREATE INDEX idx_footprints_path ON footprints(path)",
}
