// Package postgres provides a PostgreSQL-backed ledger.TxStore using the pgx
// database/sql driver. Admission reads are serialized per product with
// SELECT ... FOR UPDATE, so units of work touching disjoint products run in
// parallel.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlstore"
)

var _ ledger.TxStore = (*Store)(nil)

const (
	driverName = "pgx"

	// SQLSTATE unique_violation.
	uniqueViolation = "23505"
)

// Dialect is how sqlstore talks to PostgreSQL.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	Numbered:          true,
	RowLocks:          true,
	IsUniqueViolation: isUniqueViolation,
}

// Store is a Postgres ledger store.
type Store struct {
	*sqlstore.Store
}

// New opens dsn, checks connectivity and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
