package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctxkeeper/ctxkeeper/internal/checkpoint"
	"github.com/ctxkeeper/ctxkeeper/internal/compress"
	"github.com/ctxkeeper/ctxkeeper/internal/config"
	"github.com/ctxkeeper/ctxkeeper/internal/graph"
	"github.com/ctxkeeper/ctxkeeper/internal/rpc"
	"github.com/ctxkeeper/ctxkeeper/internal/session"
	"github.com/ctxkeeper/ctxkeeper/internal/storage/sqlite"
	"github.com/ctxkeeper/ctxkeeper/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon, speaking JSON-RPC over stdin/stdout",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := sqlite.New(ctx, cfg.Database.Path, sqlite.Options{MaxDatabaseBytes: cfg.Database.MaxSizeBytes})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions := session.New(store)
	g := graph.New(store)
	checkpoints := checkpoint.New(store, sessions)
	compressor := compress.New(store)
	watchers := watch.NewRegistry(store, cfg.Watcher.MaxConcurrentPolls)

	server := rpc.NewServer(logger)
	rpc.RegisterAll(server, rpc.Deps{
		Store:                 store,
		Sessions:              sessions,
		Graph:                 g,
		Checkpoints:           checkpoints,
		Compress:              compressor,
		Watchers:              watchers,
		Migrations:            store.Migrations(),
		DefaultWatcherTimeout: cfg.DefaultWatcherTimeout(),
		MaxWatcherTimeout:     cfg.MaxWatcherTimeout(),
	})

	logger.Info("ctxkeeperd starting", "db", cfg.Database.Path)
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
