package hostdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB is the persistent ledger of packages installed on this host, plus an
// append-only history of package change events.
type DB struct {
	db *sql.DB

	listenerMu sync.Mutex
	listener   func(ChangeEvent)
}

// New opens or creates the ledger database at dbPath.
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc.org/sqlite serializes access; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	ledger := &DB{db: db}
	if err := ledger.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return ledger, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (d *DB) createSchema() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SetListener registers the single change listener, replacing any previous
// one. The listener runs synchronously on the mutating goroutine, so
// consumers observe the host change before the mutation call returns.
func (d *DB) SetListener(listener func(ChangeEvent)) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.listener = listener
}

func (d *DB) notify(ev ChangeEvent) {
	d.listenerMu.Lock()
	listener := d.listener
	d.listenerMu.Unlock()

	if listener != nil {
		listener(ev)
	}
}
