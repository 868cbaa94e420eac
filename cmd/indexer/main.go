package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/config"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/logger"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/supervisor"
)

const version = "1.0.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Untron V3 event chain indexer",
	Long: `Tails the Untron V3 hub and controller event chains into PostgreSQL,
and indexes USDT transfers into controller receiver addresses.

Configuration is read from the environment only.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runIndexer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the indexer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentSupervisor, &cfg.LoggingConfig)
	logger.SetDefaultLogger(log)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := supervisor.NewApp(ctx, cfg)
	if err != nil {
		log.Errorw("startup failed", "error", err)
		return err
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Errorw("indexer failed", "error", err)
		return err
	}
	return nil
}
