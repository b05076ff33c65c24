/*
main.go - Application entry point

PURPOSE:
  Command line for the nation engine. Loads configuration, wires the
  store, catalogs, engine and async queues, and hands them to a subcommand.

COMMANDS:
  serve             HTTP API + periodic recalculation scheduler
  seed <scenario>   Load a demo scenario into the database
  catalog           Print the effective tier, milestone and achievement catalogs

CONFIGURATION (later wins):
  defaults < --config file < NATION_* environment < flags

  Flags bound to config keys:
    --port       server.port
    --db         database.path  (":memory:" for a throwaway database)
    --log-level  log.level

STARTUP SEQUENCE:
  1. Load config, build logger
  2. Load catalogs (embedded defaults or overrides) and validate them
  3. Open SQLite store (migrations run on open)
  4. Start feed emitter and evaluation queue
  5. Run the subcommand
  6. Drain queues and close the store

EXAMPLES:
  nation-engine serve --db ./data/nation.db
  NATION_CLOCK_RATE=365 nation-engine serve
  nation-engine seed great-powers --db ./data/nation.db
  nation-engine catalog --only achievements

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/nation-engine/achievement"
	"github.com/warp/nation-engine/activity"
	"github.com/warp/nation-engine/api"
	"github.com/warp/nation-engine/config"
	"github.com/warp/nation-engine/dispatch"
	"github.com/warp/nation-engine/economy"
	"github.com/warp/nation-engine/engine"
	"github.com/warp/nation-engine/factory"
	"github.com/warp/nation-engine/milestone"
	"github.com/warp/nation-engine/store/sqlite"
)

const drainTimeout = 10 * time.Second

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "nation-engine",
	Short: "Country economy projection, milestones and achievements",
	Long: `nation-engine projects each country's population and GDP from an immutable
baseline along a simulated clock, records milestones the first time a threshold
is crossed and unlocks achievements for the country's owner.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().String("db", "./data/nation.db", "SQLite database path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level: debug, info, warn, error")

	v.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// =============================================================================
// WIRING
// =============================================================================

// app is the wired process. Every subcommand builds one and closes it.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    *sqlite.Store
	catalogs *factory.Catalogs
	emitter  *activity.Emitter
	service  *engine.Service
	handler  *api.Handler
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Log.NewLogger(), nil
}

func loadCatalogs(cfg *config.Config) (*factory.Catalogs, error) {
	catalogs, err := factory.Load(factory.Paths{
		Tiers:        cfg.Catalog.Tiers,
		Milestones:   cfg.Catalog.Milestones,
		Achievements: cfg.Catalog.Achievements,
	})
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	return catalogs, nil
}

func newApp() (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	catalogs, err := loadCatalogs(cfg)
	if err != nil {
		return nil, err
	}

	clock, err := cfg.Clock.Build()
	if err != nil {
		return nil, err
	}

	if dir := dbDir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	onError := func(queue string) func(error) {
		return func(err error) {
			log.WithError(err).WithField("queue", queue).Warn("async work failed")
		}
	}

	emitter := activity.NewEmitter(store, dispatch.Options{
		Name:    "activity",
		Size:    cfg.Queues.Feed.Size,
		Workers: cfg.Queues.Feed.Workers,
		Log:     log,
		OnError: onError("activity"),
	})

	service, err := engine.NewService(engine.Options{
		Store:      store,
		Calculator: economy.NewCalculator(catalogs.Classifier),
		Detector:   milestone.NewDetector(catalogs.Milestones),
		Clock:      clock,
		Achievements: &achievement.Engine{
			Catalog:  catalogs.Achievements,
			Store:    store,
			States:   engine.NewStateReader(store),
			Counters: store,
			Notifier: emitter,
			Log:      log,
		},
		Notifier: emitter,
		Accounts: store,
		Log:      log,
		EvaluationQueue: dispatch.Options{
			Name:    "evaluation",
			Size:    cfg.Queues.Evaluation.Size,
			Workers: cfg.Queues.Evaluation.Workers,
			OnError: onError("evaluation"),
		},
		CacheSize:   cfg.Engine.CacheSize,
		Concurrency: cfg.Engine.Concurrency,
	})
	if err != nil {
		emitter.Shutdown(drainTimeout)
		store.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"database":     cfg.Database.Path,
		"sim_now":      clock.Now().String(),
		"clock_rate":   clock.Rate,
		"milestones":   catalogs.Milestones.Len(),
		"achievements": catalogs.Achievements.Len(),
	}).Info("engine ready")

	return &app{
		cfg:      cfg,
		log:      log,
		store:    store,
		catalogs: catalogs,
		emitter:  emitter,
		service:  service,
		handler:  api.NewHandler(service, store, emitter, catalogs, store, log),
	}, nil
}

// close drains evaluations first since they feed the emitter.
func (a *app) close() {
	if err := a.service.Shutdown(drainTimeout); err != nil {
		a.log.WithError(err).Warn("evaluation queue not drained")
	}
	if err := a.emitter.Shutdown(drainTimeout); err != nil {
		a.log.WithError(err).Warn("activity queue not drained")
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("close database")
	}
}

func dbDir(path string) string {
	if path == "" || path == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}
