// Package main is the entry point of the guild experience daemon. It wires
// storage, the guild gateway, the level-change notifier and the scheduler
// around one experience aggregator and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/guild-hub/guild-xp/config"
	"github.com/guild-hub/guild-xp/internal/application/command"
	"github.com/guild-hub/guild-xp/internal/application/eventhandler"
	"github.com/guild-hub/guild-xp/internal/application/query"
	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/domain/voice"
	"github.com/guild-hub/guild-xp/internal/infrastructure/external/guildgw"
	"github.com/guild-hub/guild-xp/internal/infrastructure/messaging"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/memory"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/postgres"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/redis"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/sqlite"
	"github.com/guild-hub/guild-xp/internal/infrastructure/scheduler"
	"github.com/guild-hub/guild-xp/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/guild-hub/guild-xp/internal/interface/http"
	"github.com/guild-hub/guild-xp/internal/interface/http/handlers"
	"github.com/guild-hub/guild-xp/pkg/logger"
	"github.com/guild-hub/guild-xp/pkg/tracing"
)

// storage is everything the daemon needs from a backing store.
type storage interface {
	experience.Store
	rolescalar.Repository
	autorole.Repository
	Ping(ctx context.Context) error
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.Setup(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.LogLevel()),
		Format: logger.ParseFormat(cfg.LogFormat()),
	})
	guildID := shared.GuildID(cfg.Guild.ID)
	log.Info("starting guild-xp",
		"version", cfg.App.Version,
		"env", string(cfg.App.Environment),
		"guild_id", cfg.Guild.ID,
		"driver", cfg.Database.Driver,
		"features", cfg.Features.Enabled(),
	)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	defaults, err := config.LoadGuildDefaults(cfg.Guild.DefaultsFile)
	if err != nil {
		return err
	}

	health := handlers.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Storage
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, guildID, log)
	if err != nil {
		return err
	}
	health.AddCheck("database", handlers.PingCheck(store))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Redis (optional): rank cache and voice presence
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache     *redis.Cache
		rankCache query.RankCache
		presence  voice.Presence = memory.NewVoicePresence()
	)
	if cfg.Redis.Enabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize

		cache, err = redis.NewCache(redisCfg)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		health.AddCheck("redis", handlers.PingCheck(cache))
		presence = redis.NewVoicePresence(cache, guildID)
		log.Info("redis connected", "addr", redisCfg.Addr())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Guild gateway
	// ─────────────────────────────────────────────────────────────────────────
	var state guild.State
	if cfg.Gateway.URL != "" {
		gwCfg := guildgw.DefaultClientConfig(cfg.Gateway.URL, guildID)
		gwCfg.APIKey = cfg.Gateway.APIKey
		gwCfg.Timeout = cfg.Gateway.Timeout
		gwCfg.RateLimiter.RequestsPerSecond = cfg.Gateway.RequestsPerSecond
		gwCfg.RateLimiter.BurstSize = cfg.Gateway.Burst
		gwCfg.MaxAttempts = cfg.Gateway.MaxAttempts
		gwCfg.BreakerThreshold = cfg.Gateway.BreakerThreshold
		gwCfg.BreakerCooldown = cfg.Gateway.BreakerCooldown
		gwCfg.Logger = log
		state = guildgw.NewClient(gwCfg)
	} else {
		log.Warn("GATEWAY_URL not set, role lookups and announcements are disabled")
		state = guildgw.NewNoopState(log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Notifier and subscribers
	// ─────────────────────────────────────────────────────────────────────────
	notifierCfg := messaging.DefaultNotifierConfig()
	notifierCfg.Logger = log
	notifier := messaging.NewNotifier(notifierCfg)

	aggCfg := command.DefaultAggregatorConfig(guildID)
	aggCfg.Defaults = defaults
	aggCfg.AsyncLevelUps = true
	aggCfg.Logger = log
	agg := command.NewAggregator(store, store, state, notifier, aggCfg)

	if cfg.Features.AutoroleSync {
		autoroles := eventhandler.NewAutoroleSync(store, state, state, log)
		for _, ch := range []shared.EventType{shared.EventLevelUp, shared.EventLevelChanged} {
			if _, err := notifier.Subscribe(ch, "autorole-sync", autoroles.Handle); err != nil {
				return fmt.Errorf("subscribe autorole sync: %w", err)
			}
		}
	}
	if cfg.Features.Announcements {
		announcer := eventhandler.NewLevelUpAnnouncer(agg, state, log)
		if _, err := notifier.Subscribe(shared.EventLevelUp, "level-up-announcer", announcer.Handle); err != nil {
			return fmt.Errorf("subscribe announcer: %w", err)
		}
	}

	if cache != nil && cfg.Features.RankCache {
		rc := redis.NewRankCache(cache, guildID, cfg.Redis.RankCacheTTL, log)
		agg.AddObserver(rc)
		rankCache = rc
	}

	if err := agg.Load(ctx); err != nil {
		return fmt.Errorf("load guild settings: %w", err)
	}
	rules := command.NewRuleService(store, store, log)
	leaderboard := query.NewLeaderboard(store, agg, rankCache, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:       log,
			TickInterval: cfg.Scheduler.TickInterval,
		})
		if err := sched.Register(jobs.NewFlushExperienceJob(agg, log), scheduler.NewIntervalSchedule(cfg.Scheduler.FlushInterval)); err != nil {
			return fmt.Errorf("register flush job: %w", err)
		}
		if cfg.Features.VoiceRewards {
			voiceJob := jobs.NewVoiceRewardsJob(presence, agg, jobs.VoiceRewardsConfig{MinPresence: cfg.Scheduler.VoiceMinPresence}, log)
			if err := sched.Register(voiceJob, scheduler.NewIntervalSchedule(cfg.Scheduler.VoiceInterval)); err != nil {
				return fmt.Errorf("register voice job: %w", err)
			}
		}
	} else {
		log.Warn("scheduler disabled, experience is flushed only on demand")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Addr = cfg.HTTP.Addr
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		Engine:      agg,
		Rules:       rules,
		Leaderboard: leaderboard,
		Voice:       presence,
		Health:      health,
		Admin:       handlers.NewAdminAuth(cfg.HTTP.AdminTokenHash),
		Features:    cfg.Features.All(),
		Logger:      log,
	}
	if sched != nil {
		deps.Jobs = sched
	}
	server := httpserver.NewServer(httpCfg, deps)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. Run until signalled
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, log, server, sched, agg, notifier, store, cache, shutdownTracing)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("guild-xp stopped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func openStorage(ctx context.Context, cfg *config.Config, guildID shared.GuildID, log *slog.Logger) (storage, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Database.MigrateOnStart {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				conn.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		log.Info("postgres connected", "max_conns", pgCfg.MaxConns)
		return postgres.NewStore(conn, guildID), nil

	default:
		store, err := sqlite.Open(cfg.Database.SQLitePath, guildID)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite opened", "path", cfg.Database.SQLitePath)
		return store, nil
	}
}

// shutdown stops intake first, then drains the buffer and the notifier
// before releasing storage.
func shutdown(
	ctx context.Context,
	log *slog.Logger,
	server *httpserver.Server,
	sched *scheduler.Scheduler,
	agg *command.Aggregator,
	notifier *messaging.Notifier,
	store storage,
	cache *redis.Cache,
	shutdownTracing tracing.ShutdownFunc,
) error {
	var errs []error

	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop failed", "error", err)
		}
	}

	result, err := agg.Flush(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("final flush: %w", err))
	} else {
		log.Info("final flush complete", "written", result.Written, "dropped", result.Dropped)
	}

	if err := notifier.Close(); err != nil {
		log.Warn("notifier close failed", "error", err)
	}
	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
	return errors.Join(errs...)
}
