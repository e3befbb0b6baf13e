package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctxkeeper/ctxkeeper/internal/config"
	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite"
)

var dryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or apply schema migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	ctx := context.Background()
	store, err := sqlite.New(ctx, cfg.Database.Path, sqlite.Options{MaxDatabaseBytes: cfg.Database.MaxSizeBytes})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Opening the store already applies every migration, so a plain
	// `ctxkeeperd migrate` run just reports what happened; --dry-run
	// instead asks what was pending before that happened.
	if dryRun {
		results, err := store.Migrations().DryRun(ctx)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s %s pending=%v\n", r.Version, r.Name, r.Pending)
		}
		return nil
	}

	log, err := store.Migrations().Log(ctx)
	if err != nil {
		return err
	}
	for _, e := range log {
		fmt.Printf("%s %s success=%v applied_at=%s\n", e.Version, e.Name, e.Success, e.AppliedAt)
	}
	return nil
}
