package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/russross/meddler"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
)

const (
	DriverName = "pgx"

	DefaultMaxConnections = 5

	undefinedTableCode = "42P01"
)

func init() {
	meddler.Default = meddler.PostgreSQL
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewPostgresDB opens a pooled connection to databaseURL and verifies it answers.
func NewPostgresDB(ctx context.Context, databaseURL string, maxConnections int) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}

	database, err := sql.Open(DriverName, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(maxConnections)
	database.SetMaxIdleConns(maxConnections)
	database.SetConnMaxIdleTime(5 * time.Minute)

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return database, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back otherwise.
func WithTx(ctx context.Context, database *sql.DB, log *logger.Logger, operation string, fn func(tx *sql.Tx) error) error {
	start := time.Now()

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		TxOutcomeInc(operation, "begin_error")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Errorw("failed to rollback transaction", "operation", operation, "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		TxOutcomeInc(operation, "rollback")
		return err
	}

	if err := tx.Commit(); err != nil {
		TxOutcomeInc(operation, "commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	TxOutcomeInc(operation, "commit")
	TxDurationLog(operation, time.Since(start))
	return nil
}

// IsUndefinedTable reports whether err is PostgreSQL's "relation does not exist".
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}
