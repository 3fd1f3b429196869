// Package app wires configuration, storage and the achievement engine into
// a runnable process.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"userachievements/internal/achievements"
	"userachievements/internal/broadcast"
	"userachievements/internal/config"
	"userachievements/internal/db"
	"userachievements/internal/editquery"
	"userachievements/internal/engine"
	"userachievements/internal/logging"
	"userachievements/internal/metrics"
	"userachievements/internal/rebuild"
)

type App struct {
	Config      config.Config
	Log         *zap.Logger
	DB          *db.DB
	Directory   *db.Directory
	Engine      *engine.Engine
	Broadcaster *broadcast.Broadcaster
	Metrics     *prometheus.Registry

	closers []func() error
}

// Open connects to the database, applies migrations, loads definitions and
// enabled flags and builds the engine.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log, Metrics: prometheus.NewRegistry()}

	dialect, err := db.ParseDialect(cfg.DBDialect)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	database, err := db.Connect(dialect, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)
	database.SetMaxConns(cfg.DBMaxConns)
	if err := database.Migrate(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	defs, err := loadDefinitions(cfg.AchievementsDir)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	a.Directory = db.NewDirectory(a.DB, db.DirectoryConfig{
		AdminGroups:     cfg.AdminGroups,
		BotGroups:       cfg.BotGroups,
		SystemUsernames: cfg.SystemUsernames,
		Clock:           clock,
	})
	installed, _, err := a.Directory.FirstRegistration(ctx)
	if err != nil {
		return err
	}

	m := metrics.New(a.Metrics)
	a.Broadcaster = broadcast.NewBroadcaster()
	env := &achievements.Env{
		Store:                  a.DB,
		Source:                 db.NewEditSource(a.DB),
		Builder:                editquery.NewBuilder(cfg.ContentNamespaces),
		Eligibility:            achievements.DefaultEligibility{IgnoreUsernames: cfg.IgnoreUsernames},
		Admins:                 a.Directory,
		Clock:                  clock,
		Log:                    logging.Audit(a.Log),
		Observer:               achievements.Observers(m, a.Broadcaster),
		Installed:              installed,
		NamespaceContentModels: cfg.NamespaceContentModels,
		DefaultColor:           cfg.DefaultAchievedColor,
	}
	registry, err := achievements.NewRegistry(defs, env)
	if err != nil {
		return err
	}
	if err := registry.LoadEnabled(ctx, a.DB); err != nil {
		return err
	}

	var locker rebuild.Locker = rebuild.NewLocalLocker()
	if cfg.RedisURL != "" {
		rl, err := rebuild.NewRedisLocker(ctx, cfg.RedisURL, a.Log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rl.Close)
		locker = rl
	}
	coordinator := rebuild.NewCoordinator(registry, a.Directory, a.DB, rebuild.Config{
		Workers:   cfg.RebuildWorkers,
		BatchSize: cfg.RebuildBatchSize,
		LockTTL:   cfg.RebuildLockTTL,
	},
		rebuild.WithLocker(locker),
		rebuild.WithClock(clock),
		rebuild.WithLogger(a.Log.Named("rebuild")),
		rebuild.WithObserver(m),
	)

	a.Engine = engine.New(engine.Options{
		Registry: registry,
		Store:    a.DB,
		Admins:   a.Directory,
		Rebuild:  coordinator,
		Log:      a.Log,
	})
	a.Log.Info("achievements loaded",
		zap.Int("count", len(registry.All())),
		zap.Time("installed", installed),
	)
	return nil
}

func loadDefinitions(dir string) ([]achievements.Definition, error) {
	// Built-ins are always included; dir overrides them by id.
	return achievements.DefinitionsFromDir(dir)
}

// WriteMetrics writes the collected metrics to the configured textfile, if
// any.
func (a *App) WriteMetrics() error {
	if a.Config.MetricsTextfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(a.Config.MetricsTextfile, a.Metrics)
}

func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
