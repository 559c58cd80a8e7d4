package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the query surface shared by *sql.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type snapshotKey struct{ name string }

// Querier returns the snapshot transaction carried in ctx for this database,
// or the plain connection when the caller is outside a snapshot.
func (db *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(snapshotKey{db.name}).(*sql.Tx); ok {
		return tx
	}
	return db.conn
}

// Snapshotter opens one read transaction per database so a set of reads
// observes a single consistent state, even while writers commit.
type Snapshotter struct {
	dbs []*DB
}

// NewSnapshotter creates a snapshotter over the given databases
func NewSnapshotter(dbs ...*DB) *Snapshotter {
	return &Snapshotter{dbs: dbs}
}

// ReadSnapshot runs fn with every database's read transaction in ctx. The
// transactions are always rolled back.
func (s *Snapshotter) ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	var txs []*sql.Tx
	defer func() {
		for _, tx := range txs {
			_ = tx.Rollback()
		}
	}()

	for _, db := range s.dbs {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin snapshot on %s: %w", db.name, err)
		}
		txs = append(txs, tx)

		// SQLite starts the read snapshot at the first read, so take it now
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
			return fmt.Errorf("failed to open snapshot on %s: %w", db.name, err)
		}
		ctx = context.WithValue(ctx, snapshotKey{db.name}, tx)
	}

	return fn(ctx)
}
