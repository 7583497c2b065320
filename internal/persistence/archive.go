package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/basket/swarmctl/internal/swarm"
	_ "github.com/mattn/go-sqlite3"
)

const (
	archiveSchemaVersion  = 1
	archiveSchemaChecksum = "sw-v1-2026-07-terminal-archive"
)

// Archive stores closed task records in sqlite so the JSONL journal can
// be compacted down to live tasks while history stays queryable.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db}
	if err := a.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) initSchema(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragmas {
		if _, err := a.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS archived_tasks (
			task_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			target TEXT NOT NULL,
			priority TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL,
			record JSON NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_archived_status ON archived_tasks(status, closed_at);`,
		`CREATE INDEX IF NOT EXISTS idx_archived_target ON archived_tasks(target, closed_at);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, archiveSchemaVersion).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);
		`, archiveSchemaVersion, archiveSchemaChecksum); err != nil {
			return fmt.Errorf("insert schema migration ledger: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema migration checksum: %w", err)
	case existing != archiveSchemaChecksum:
		return fmt.Errorf("archive schema checksum mismatch for version %d: got %q want %q",
			archiveSchemaVersion, existing, archiveSchemaChecksum)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// ArchiveTerminal inserts closed records, replacing any prior copy of
// the same task id. Non-terminal records are rejected.
func (a *Archive) ArchiveTerminal(ctx context.Context, records []swarm.TaskRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, record := range records {
		if !record.Status.IsTerminal() {
			return fmt.Errorf("archive task %s: status %q is not terminal", record.TaskID, record.Status)
		}
		blob, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal archived record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO archived_tasks (task_id, status, target, priority, attempts, created_at, closed_at, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, record.TaskID, string(record.Status), record.Target, string(record.Request.Priority),
			record.Attempts, record.CreatedAt, record.ClosedAt, string(blob)); err != nil {
			return fmt.Errorf("insert archived task: %w", err)
		}
	}
	return tx.Commit()
}

// LoadArchived returns a closed record by id, or sql.ErrNoRows.
func (a *Archive) LoadArchived(ctx context.Context, taskID string) (swarm.TaskRecord, error) {
	var blob string
	err := a.db.QueryRowContext(ctx, `
		SELECT record FROM archived_tasks WHERE task_id = ?;
	`, taskID).Scan(&blob)
	if err != nil {
		return swarm.TaskRecord{}, err
	}
	var record swarm.TaskRecord
	if err := json.Unmarshal([]byte(blob), &record); err != nil {
		return swarm.TaskRecord{}, fmt.Errorf("unmarshal archived record: %w", err)
	}
	return record, nil
}

// CountByStatus returns archived task counts keyed by terminal status.
func (a *Archive) CountByStatus(ctx context.Context) (map[swarm.TaskStatus]int, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM archived_tasks GROUP BY status;
	`)
	if err != nil {
		return nil, fmt.Errorf("count archived tasks: %w", err)
	}
	defer rows.Close()

	out := map[swarm.TaskStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan archive count: %w", err)
		}
		out[swarm.TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive count rows: %w", err)
	}
	return out, nil
}
