package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
)

const (
	UpDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	NoLimitMigrations = 0 // indicate that there is no limit on the number of migrations to run

	MigrationsSchema = "chain"
	MigrationsTable  = "schema_migrations"

	migrationDirections = 2
	dialect             = "postgres"
)

type Migration struct {
	ID  string
	SQL string
}

// AppliedMigration is one row of the migrations bookkeeping table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

func migrationSet() *migrate.MigrationSet {
	return &migrate.MigrationSet{
		SchemaName: MigrationsSchema,
		TableName:  MigrationsTable,
	}
}

func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	_, err := RunMigrationsDBExtended(log, db, migrations, migrate.Up, NoLimitMigrations)
	return err
}

// RunMigrationsDBExtended applies at most maxMigrations migrations in direction dir
// and returns how many ran. Pass NoLimitMigrations to run all pending ones.
func RunMigrationsDBExtended(log *logger.Logger,
	db *sql.DB,
	migrations []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) (int, error) {
	source, err := buildSource(migrations)
	if err != nil {
		return 0, err
	}

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + MigrationsSchema); err != nil {
		return 0, fmt.Errorf("failed to create schema %s: %w", MigrationsSchema, err)
	}

	ids := make([]string, 0, len(source.Migrations))
	for _, m := range source.Migrations {
		ids = append(ids, m.Id)
	}
	listMigrations := strings.Join(ids, ", ")

	log.Debugf("running migrations: (max %d/%d) migrations: %s", maxMigrations, len(ids), listMigrations)

	set := migrationSet()
	// a partial run may meet rows from migrations newer than this binary
	set.IgnoreUnknown = maxMigrations != NoLimitMigrations

	n, err := set.ExecMax(db, dialect, source, dir, maxMigrations)
	if err != nil {
		return n, fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(ids), listMigrations, err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", n, listMigrations)
	return n, nil
}

func buildSource(migrations []Migration) (*migrate.MemoryMigrationSource, error) {
	source := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}

	for _, m := range migrations {
		parts := strings.Split(m.SQL, UpDownSeparator)
		if len(parts) < migrationDirections {
			return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, UpDownSeparator)
		}

		// parts[0] holds the Down section, parts[1] the Up section
		downSQL := parts[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = downSQL[idx+len(downMarker):]
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(parts[1])},
			Down: []string{strings.TrimSpace(downSQL)},
		})
	}

	return source, nil
}

// AppliedMigrations lists the recorded migrations ordered by id.
func AppliedMigrations(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, applied_at FROM "+MigrationsSchema+"."+MigrationsTable+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.ID, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		applied = append(applied, m)
	}
	return applied, rows.Err()
}

// SchemaVersion returns the highest numeric id prefix among applied migrations.
// A database without the bookkeeping table surfaces IsUndefinedTable.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	applied, err := AppliedMigrations(ctx, db)
	if err != nil {
		return 0, err
	}

	version := 0
	for _, m := range applied {
		if n := MigrationNumber(m.ID); n > version {
			version = n
		}
	}
	return version, nil
}

// MigrationNumber parses the leading digits of a migration id, 0 when absent.
func MigrationNumber(id string) int {
	end := 0
	for end < len(id) && id[end] >= '0' && id[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(id[:end])
	if err != nil {
		return 0
	}
	return n
}

// PendingMigrations returns ids of known migrations that are not yet applied.
func PendingMigrations(known []Migration, applied []AppliedMigration) []string {
	done := make(map[string]struct{}, len(applied))
	for _, m := range applied {
		done[m.ID] = struct{}{}
	}

	var pending []string
	for _, m := range known {
		if _, ok := done[m.ID]; !ok {
			pending = append(pending, m.ID)
		}
	}
	sort.Strings(pending)
	return pending
}
