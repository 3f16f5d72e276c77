package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/affinity/internal/cache"
	"github.com/lazypower/affinity/internal/config"
	"github.com/lazypower/affinity/internal/engine"
	"github.com/lazypower/affinity/internal/logger"
	"github.com/lazypower/affinity/internal/metrics"
	"github.com/lazypower/affinity/internal/store"
)

var (
	configPath string
	dbOverride string
)

var rootCmd = &cobra.Command{
	Use:   "affinity",
	Short: "Relationship graph for portfolio content",
	Long:  "Affinity scores portfolio items against each other and keeps a bounded list of related items for each one.",

	SilenceUsage: true,
}

// Execute runs the command line. Interrupts cancel the running command;
// sweeps stop between items and keep their partial report.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.toml or .yaml)")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "database path, overrides config and AFFINITY_DB")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(recalcCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(deleteCmd)
}

// app bundles everything a command needs.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	db      *store.DB
	cache   *cache.Memory
	metrics *metrics.Collector
	eng     *engine.Engine
}

// openApp loads configuration and wires the database, cache and engine.
func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Env)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		cache:   cache.NewMemory(64, cfg.CacheTTL()),
		metrics: metrics.New(),
	}
	a.eng = engine.NewFromDB(db, a.cache, log, a.metrics, engine.Options{
		MinScore:     cfg.Graph.MinScore,
		MaxAutoLinks: cfg.Graph.MaxAutoLinks,
		BatchSize:    cfg.Graph.BatchSize,
		Workers:      cfg.Graph.Workers,
		CacheTTL:     cfg.CacheTTL(),
	})
	return a, nil
}

func (a *app) Close() {
	a.eng.Stop()
	a.cache.Close()
	a.db.Close()
	logger.Sync(a.log)
}
