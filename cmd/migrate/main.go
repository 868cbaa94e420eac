package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/db"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/migrations"
)

const connectTimeout = 30 * time.Second

type env struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

var (
	upLimit   int
	downLimit int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the indexer database schema",
	Long:  `Applies, rolls back and reports the chain schema migrations. DATABASE_URL selects the database.`,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(log *logger.Logger, database *sql.DB) error {
			n, err := migrations.Up(log, database, upLimit)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", n)
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if downLimit < 1 {
			return errors.New("--limit must be at least 1 for down")
		}
		return withDB(func(log *logger.Logger, database *sql.DB) error {
			n, err := migrations.Down(log, database, downLimit)
			if err != nil {
				return err
			}
			fmt.Printf("rolled back %d migration(s)\n", n)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(log *logger.Logger, database *sql.DB) error {
			applied, err := db.AppliedMigrations(cmd.Context(), database)
			if err != nil && !db.IsUndefinedTable(err) {
				return err
			}

			for _, m := range applied {
				fmt.Printf("applied  %s  %s\n", m.ID, m.AppliedAt.Format(time.RFC3339))
			}
			for _, id := range db.PendingMigrations(migrations.All(), applied) {
				fmt.Printf("pending  %s\n", id)
			}

			version, _ := db.SchemaVersion(cmd.Context(), database)
			fmt.Printf("schema version %d, binary requires %d\n", version, migrations.MinSchemaVersion)
			return nil
		})
	},
}

func init() {
	upCmd.Flags().IntVar(&upLimit, "limit", db.NoLimitMigrations, "maximum number of migrations to apply (0 = all)")
	downCmd.Flags().IntVar(&downLimit, "limit", 1, "number of migrations to roll back")
	rootCmd.AddCommand(upCmd, downCmd, statusCmd)
}

func withDB(fn func(log *logger.Logger, database *sql.DB) error) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return err
	}

	log := logger.NewComponentLogger(common.ComponentMigrations, e.LogLevel, false)
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	database, err := db.NewPostgresDB(ctx, e.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(log, database)
}
