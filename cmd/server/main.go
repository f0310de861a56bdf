package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fieldconfig-backend/internal/api"
	"fieldconfig-backend/internal/config"
	"fieldconfig-backend/internal/configsvc"
	"fieldconfig-backend/internal/gateway"
	"fieldconfig-backend/internal/grouping"
	"fieldconfig-backend/internal/instrument"
	"fieldconfig-backend/internal/session"
	"fieldconfig-backend/internal/storage"
	"fieldconfig-backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("db_name", cfg.Database.Name))

	// 2. Connect to database and create tables
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap tables: %w", err)
	}
	log.Info("database ready")

	// 3. Change history
	var recorder instrument.Recorder = instrument.NoopRecorder{}
	if cfg.Instrumentation.Enabled {
		buf := instrument.NewEventBuffer(db, cfg.Instrumentation.BufferSize,
			time.Duration(cfg.Instrumentation.FlushIntervalMs)*time.Millisecond, log.Named("history"))
		defer buf.Stop()
		recorder = buf
	}

	// 4. Canonical config service
	source, err := configsvc.NewSource(cfg.Upstream, log.Named("upstream"))
	if err != nil {
		return fmt.Errorf("upstream source: %w", err)
	}
	if source == nil {
		log.Warn("no upstream metadata source configured; sync and metadata are unavailable")
	}
	svc := configsvc.NewService(configsvc.NewRepository(db), source, recorder, log.Named("configsvc"))

	// 5. Portal sessions
	engine, err := grouping.New(cfg.Grouping.Overrides...)
	if err != nil {
		return fmt.Errorf("grouping overrides: %w", err)
	}
	baseURL := cfg.Gateway.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d/api/items", cfg.Server.Port)
	}
	gw := gateway.New(baseURL, cfg.Gateway.Timeout(), gateway.WithLogger(log.Named("gateway")))

	archive := storage.NewLocalArchive(cfg.Storage.LocalPath)
	sessions := session.NewManager(session.ManagerConfig{
		Secret:    cfg.Session.Secret,
		TTL:       cfg.Session.TTL(),
		NoticeTTL: cfg.Session.NoticeTTL(),
	}, gw, engine, log.Named("session"))
	sessions.OnEvict(func(id string) {
		if err := archive.DeleteSession(context.Background(), id); err != nil {
			log.Warn("delete session uploads", zap.String("session", id), zap.Error(err))
		}
	})
	sessions.Start()
	defer sessions.Stop()

	// 6. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler(log),
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1<<20,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": sessions.Len()})
	})
	configsvc.RegisterRoutes(app, configsvc.NewHandler(svc, instrument.NewHistoryHandler(db)))
	api.RegisterPortalRoutes(app, api.NewPortalHandler(sessions, archive, cfg.Storage.MaxFileSize, log.Named("portal")))

	// 7. Run listener and background workers until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("starting server", zap.String("addr", addr))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	if fs, ok := source.(*configsvc.FileSource); ok {
		g.Go(func() error { return fs.Watch(gctx) })
	}
	if cfg.Instrumentation.Enabled && cfg.Instrumentation.RetentionDays > 0 {
		g.Go(func() error {
			cleanupHistory(gctx, db, cfg.Instrumentation.RetentionDays, log)
			return nil
		})
	}
	return g.Wait()
}

func cleanupHistory(ctx context.Context, db *store.Store, days int, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if n, err := instrument.CleanupOldEvents(ctx, db, days); err != nil {
			log.Error("history cleanup", zap.Error(err))
		} else if n > 0 {
			log.Info("history cleanup", zap.Int64("deleted", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
