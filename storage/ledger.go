package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"ctitoolkit/metrics"
)

// DefaultCacheSize is used when NewLedger is given a non-positive cache size.
const DefaultCacheSize = 1024

// processedAtLayout has fixed-width fractions so stored timestamps sort as text.
const processedAtLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one processed source.
type Entry struct {
	Digest      string    `json:"digest"`
	FileName    string    `json:"file_name"`
	STIXVersion string    `json:"stix_version"`
	Outcome     string    `json:"outcome"`
	Observables int       `json:"observables"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Ledger records which sources have been processed, keyed by content digest.
type Ledger struct {
	db     *sql.DB
	path   string
	cache  *lru.Cache[string, bool]
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// NewLedger opens (or creates) the ledger database at path.
func NewLedger(path string, cacheSize int, logger *zap.SugaredLogger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger cache: %w", err)
	}

	db, err := openSQLite(path, logger)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		db:     db,
		path:   path,
		cache:  cache,
		logger: logger,
	}

	if err := l.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Debugf("Ledger initialized at %s", path)
	return l, nil
}

func (l *Ledger) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_sources (
		digest TEXT PRIMARY KEY,
		file_name TEXT NOT NULL DEFAULT '',
		stix_version TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		observables INTEGER NOT NULL DEFAULT 0,
		processed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_processed_sources_processed_at ON processed_sources(processed_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Path returns the database path the ledger was opened with.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLedgerClosed
	}
	return nil
}

// Seen reports whether digest has been recorded.
func (l *Ledger) Seen(ctx context.Context, digest string) (bool, error) {
	if err := l.checkOpen(); err != nil {
		return false, err
	}
	if l.cache.Contains(digest) {
		metrics.RecordLedgerCacheHit()
		return true, nil
	}

	var one int
	err := l.db.QueryRowContext(ctx,
		"SELECT 1 FROM processed_sources WHERE digest = ?", digest).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}

	l.cache.Add(digest, true)
	return true, nil
}

// Record inserts entry, replacing any earlier entry with the same digest.
func (l *Ledger) Record(ctx context.Context, entry Entry) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if entry.Digest == "" {
		return fmt.Errorf("%w: digest is required", ErrInvalidEntry)
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now()
	}

	query := `
		INSERT INTO processed_sources (digest, file_name, stix_version, outcome, observables, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO UPDATE SET
			file_name = excluded.file_name,
			stix_version = excluded.stix_version,
			outcome = excluded.outcome,
			observables = excluded.observables,
			processed_at = excluded.processed_at
	`
	_, err := l.db.ExecContext(ctx, query,
		entry.Digest,
		entry.FileName,
		entry.STIXVersion,
		entry.Outcome,
		entry.Observables,
		entry.ProcessedAt.UTC().Format(processedAtLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Digest, err)
	}

	l.cache.Add(entry.Digest, true)
	l.logger.Debugw("Recorded source", "digest", entry.Digest, "file", entry.FileName, "outcome", entry.Outcome)
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit returns all entries.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT digest, file_name, stix_version, outcome, observables, processed_at
		FROM processed_sources
		ORDER BY processed_at DESC, digest
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var processedAt string
		if err := rows.Scan(&e.Digest, &e.FileName, &e.STIXVersion, &e.Outcome, &e.Observables, &processedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.ProcessedAt, err = time.Parse(processedAtLayout, processedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse processed_at for %s: %w", e.Digest, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger: %w", err)
	}

	return entries, nil
}

// Close releases the database. Further calls return ErrLedgerClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.cache.Purge()
	return l.db.Close()
}
