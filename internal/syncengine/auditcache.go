package syncengine

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`

	commitLedgerSchema = `CREATE TABLE IF NOT EXISTS commit_ledger (
		hash TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		violations INTEGER NOT NULL DEFAULT 0
	);`
)

// AuditCache persists a local cache of the gitgov-state commit ledger
// so repeated auditState calls don't re-walk and re-verify the entire
// branch history from scratch.
type AuditCache struct {
	db *sql.DB
}

// OpenAuditCache opens (creating if absent) a sqlite-backed cache file
// at path.
func OpenAuditCache(path string) (*AuditCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit cache: %w", err)
	}
	if _, err := db.Exec(pragmaJournalModeWAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring audit cache: %w", err)
	}
	if _, err := db.Exec(commitLedgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating commit ledger table: %w", err)
	}
	return &AuditCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *AuditCache) Close() error {
	return c.db.Close()
}

// Has reports whether hash is already recorded in the ledger, letting
// AuditState skip re-verifying commits it has already processed.
func (c *AuditCache) Has(hash string) (bool, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(1) FROM commit_ledger WHERE hash = ?`, hash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying commit ledger: %w", err)
	}
	return count > 0, nil
}

// Record upserts a commit's ledger entry.
func (c *AuditCache) Record(hash, kind, message string, violations int) error {
	_, err := c.db.Exec(
		`INSERT INTO commit_ledger (hash, kind, message, violations) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET kind = excluded.kind, message = excluded.message, violations = excluded.violations`,
		hash, kind, message, violations,
	)
	if err != nil {
		return fmt.Errorf("recording commit ledger entry: %w", err)
	}
	return nil
}

// Count returns the number of ledger entries of the given kind
// ("commit", "rebase", "resolution").
func (c *AuditCache) Count(kind string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(1) FROM commit_ledger WHERE kind = ?`, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting commit ledger entries: %w", err)
	}
	return count, nil
}
