package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// configureSQLiteConnection enables WAL mode, foreign keys and the busy timeout,
// then verifies the journal mode took effect.
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string) error {
	// Connection string params are not applied reliably; use PRAGMA.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" instead of "wal"
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if dbPath != MemoryPath && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got: %s, expected: wal)", journalMode)
	}
	logger.Debugf("SQLite journal mode verified: %s", journalMode)

	return nil
}

// openSQLite opens and configures a single-writer SQLite handle at dbPath,
// creating the parent directory when needed.
func openSQLite(dbPath string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One connection: WAL allows a single writer, and an in-memory
	// database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := configureSQLiteConnection(db, logger, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// validateDatabasePath rejects paths SQLite would misinterpret or that
// name a device rather than a file.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("%w: database path cannot be empty", ErrInvalidPath)
	}

	if len(dbPath) > 512 {
		return fmt.Errorf("%w: database path exceeds maximum length of 512 characters", ErrInvalidPath)
	}

	if dbPath == MemoryPath {
		return nil
	}

	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("%w: null bytes not allowed in path", ErrInvalidPath)
	}

	// file: URIs would let the caller smuggle connection options
	if strings.HasPrefix(dbPath, "file:") {
		return fmt.Errorf("%w: URI paths not allowed: %s", ErrInvalidPath, dbPath)
	}

	// CON, PRN, AUX, NUL, COM1, LPT1 etc. are device files on Windows
	base := filepath.Base(dbPath)
	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4",
		"LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

	baseUpper := strings.ToUpper(base)
	for _, r := range reserved {
		if baseUpper == r || strings.HasPrefix(baseUpper, r+".") {
			return fmt.Errorf("%w: reserved name not allowed: %s", ErrInvalidPath, base)
		}
	}

	if info, err := os.Stat(dbPath); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidPath, dbPath)
	}

	return nil
}
