package migrations

import (
	"database/sql"
	_ "embed"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
)

// MinSchemaVersion is the lowest applied migration number this binary can run against.
const MinSchemaVersion = 3

//go:embed 0001_chain_schema.sql
var mig0001 string

//go:embed 0002_controller_tip_proofs.sql
var mig0002 string

//go:embed 0003_receiver_usdt.sql
var mig0003 string

// All returns the embedded migrations in apply order.
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "0001_chain_schema.sql",
			SQL: mig0001,
		},
		{
			ID:  "0002_controller_tip_proofs.sql",
			SQL: mig0002,
		},
		{
			ID:  "0003_receiver_usdt.sql",
			SQL: mig0003,
		},
	}
}

// RunMigrations applies every pending migration.
func RunMigrations(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, All())
}

// Up applies at most limit pending migrations; 0 applies all of them.
func Up(log *logger.Logger, database *sql.DB, limit int) (int, error) {
	return db.RunMigrationsDBExtended(log, database, All(), migrate.Up, limit)
}

// Down rolls back at most limit applied migrations; 0 rolls back all of them.
func Down(log *logger.Logger, database *sql.DB, limit int) (int, error) {
	return db.RunMigrationsDBExtended(log, database, All(), migrate.Down, limit)
}
