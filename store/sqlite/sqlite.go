/*
Package sqlite provides a SQLite-backed ledger.TxStore.

PURPOSE:
  Default storage for a single-node deployment. Queries and schema live in
  store/sqlstore; this package opens the database with the right pragmas and
  tells sqlstore how SQLite behaves.

CONCURRENCY:
  SQLite has no row locks. The store serializes units of work with a
  mutex and opens every transaction with BEGIN IMMEDIATE (_txlock), so the
  admission check and the status write happen under one write lock even
  when another process shares the file.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  controller := ledger.NewController(store)

SEE ALSO:
  - store/sqlstore: Schema and queries
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlstore"
)

var _ ledger.TxStore = (*Store)(nil)

// Dialect is how sqlstore talks to SQLite.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	SerializeWriters:  true,
	IsUniqueViolation: isUniqueConstraintError,
}

// Store is a SQLite ledger store.
type Store struct {
	*sqlstore.Store
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	inner, err := sqlstore.Open(context.Background(), db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
