package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store persists audit entries in a local SQLite database so the trail
// survives process restarts.
type Store struct {
	db *sqlx.DB
}

type schemaMigration struct {
	version int
	sql     string
}

var migrations = []schemaMigration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_entries (
	id        TEXT PRIMARY KEY,
	run_id    TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	level     TEXT NOT NULL,
	component TEXT NOT NULL,
	message   TEXT NOT NULL,
	details   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_entries(run_id, timestamp);
INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

// NewStore opens (or creates) the audit database at dbPath, enables WAL mode,
// and applies any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	// WAL mode for concurrent readers while a run appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running audit migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion,
			"SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying audit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Append inserts one audit entry. Entries are append-only; there is no update
// or delete path.
func (s *Store) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, run_id, timestamp, level, component, message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Timestamp, e.Level, e.Component, e.Message, e.Details,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ByRun returns every entry for a run in timestamp order.
func (s *Store) ByRun(ctx context.Context, runID string) ([]Entry, error) {
	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, run_id, timestamp, level, component, message, details
		FROM audit_entries
		WHERE run_id = ?
		ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	return entries, nil
}

// CountByLevel returns how many entries a run produced per level.
func (s *Store) CountByLevel(ctx context.Context, runID string) (map[Level]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT level, COUNT(*) AS n
		FROM audit_entries
		WHERE run_id = ?
		GROUP BY level`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Level]int)
	for rows.Next() {
		var level Level
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scanning audit counts: %w", err)
		}
		counts[level] = n
	}
	return counts, rows.Err()
}
