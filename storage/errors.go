package storage

import "errors"

// Storage error constants
var (
	// ErrInvalidPath is returned when the ledger database path is unusable
	ErrInvalidPath = errors.New("invalid database path")

	// ErrInvalidEntry is returned when a ledger entry has no digest
	ErrInvalidEntry = errors.New("invalid ledger entry")

	// ErrLedgerClosed is returned when the ledger is used after Close
	ErrLedgerClosed = errors.New("ledger is closed")
)
