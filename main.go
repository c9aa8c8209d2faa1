package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gavelworks/bidhouse/bidhouse"
	"github.com/gavelworks/bidhouse/bidhouse/auction"
	"github.com/gavelworks/bidhouse/bidhouse/audit"
	"github.com/gavelworks/bidhouse/bidhouse/catalog"
	"github.com/gavelworks/bidhouse/bidhouse/database"
	"github.com/gavelworks/bidhouse/bidhouse/database/repositories"
	"github.com/gavelworks/bidhouse/bidhouse/identity"
	"github.com/gavelworks/bidhouse/bidhouse/logger"
	"github.com/gavelworks/bidhouse/bidhouse/notify"
	"github.com/gavelworks/bidhouse/bidhouse/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting BidHouse",
		slog.String("version", version),
		slog.String("commit", commit))

	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := bidhouse.LoadConfig(*path)
	if err != nil {
		logger.LogError("Failed to load configuration", err)
		os.Exit(-1)
	}
	customHandler.SetLevel(cfg.Log.Level)
	logger.LogSystem("Configuration loaded successfully")

	clock := auction.SystemClock()

	var store interface {
		auction.Store
		auction.LifecycleStore
	}
	var db *database.DB

	if cfg.Auction.MemoryStore {
		slog.Warn("Running with in-memory store, state will not survive a restart")
		store = auction.NewMemoryStore(clock)
	} else {
		slog.Info("Initializing database connection...")
		dbStartTime := time.Now()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		db, err = database.New(ctx, cfg.DB)
		if err != nil {
			cancel()
			slog.Error("Database connection failed",
				slog.String("error", err.Error()),
				slog.Duration("attempted_for", time.Since(dbStartTime)))
			os.Exit(-1)
		}

		slog.Info("Database connected successfully",
			slog.String("database", cfg.DB.Database),
			slog.Duration("took", time.Since(dbStartTime)))

		if err := db.InitializeSchema(ctx); err != nil {
			cancel()
			slog.Error("Failed to initialize database schema",
				slog.String("error", err.Error()))
			os.Exit(-1)
		}
		cancel()
		slog.Info("Database schema initialized successfully")

		defer db.Close()
		store = repositories.NewAuctionRepository(db.BunDB(), clock)
	}

	var resolver catalog.ImageResolver
	if cfg.Spaces.Key != "" {
		spaces, err := catalog.NewSpacesResolver(
			cfg.Spaces.Key,
			cfg.Spaces.Secret,
			cfg.Spaces.Region,
			cfg.Spaces.Bucket,
			cfg.Spaces.ImageRoot,
		)
		if err != nil {
			logger.LogError("Failed to initialize image resolver", err)
			os.Exit(-1)
		}
		logger.LogSystem("Image resolver ready",
			slog.String("bucket", spaces.GetBucket()),
			slog.String("region", spaces.GetRegion()))
		resolver = spaces
	}

	var provider catalog.Provider
	if cfg.Catalog.BaseURL != "" {
		provider = catalog.NewHTTPProvider(cfg.Catalog.BaseURL, time.Duration(cfg.Catalog.TimeoutSeconds)*time.Second)
	} else {
		slog.Warn("No catalog configured, product enrichment disabled")
		provider = catalog.NewStaticProvider(nil)
	}
	catalogService := catalog.NewService(provider, resolver, time.Duration(cfg.Catalog.CacheExpirySeconds)*time.Second)

	var deliverer notify.Deliverer = notify.LogDeliverer{}
	if cfg.Notify.DiscordWebhookURL != "" {
		deliverer, err = notify.NewDiscordDeliverer(cfg.Notify.DiscordWebhookURL)
		if err != nil {
			slog.Error("Failed to initialize webhook deliverer", slog.Any("error", err))
			os.Exit(-1)
		}
	}

	notifier := auction.NewWatchNotifier(store, deliverer)
	sinks := []auction.EventSink{notifier}

	if cfg.Audit.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		trail, err := audit.NewTrail(ctx, cfg.Audit.MongoURI, cfg.Audit.Database)
		cancel()
		if err != nil {
			slog.Error("Failed to initialize audit trail", slog.Any("error", err))
			os.Exit(-1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			trail.Close(ctx)
		}()
		sinks = append(sinks, trail)
	}
	sink := auction.MultiSink(sinks)

	engine := auction.NewEngine(store, clock, sink)
	if cfg.Auction.CommitRetries > 0 {
		engine.SetRetries(cfg.Auction.CommitRetries)
	}

	scheduler := auction.NewScheduler(store, clock, sink,
		time.Duration(cfg.Auction.SweepIntervalSeconds)*time.Second)

	srv := server.New(server.Options{
		Engine:    engine,
		Store:     store,
		Lifecycle: store,
		Catalog:   catalogService,
		Resolver:  identity.NewStaticResolver(cfg.Auth.Tokens),
		Clock:     clock,
		Version:   version,
	})

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	address := ":" + port

	g, ctx := errgroup.WithContext(context.Background())

	notifier.Start()
	scheduler.Start()

	g.Go(func() error {
		slog.Info("Starting HTTP server", slog.String("address", address))
		return srv.Listen(address)
	})

	g.Go(func() error {
		s := make(chan os.Signal, 1)
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-s:
			slog.Info("Shutting down...", slog.String("signal", sig.String()))
		case <-ctx.Done():
		}

		// Drain the HTTP server before stopping the notifier: a bid that
		// commits during shutdown still emits to the notifier queue.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr := srv.Shutdown(shutdownCtx)

		scheduler.Shutdown()
		notifier.Stop()
		return shutdownErr
	})

	if err := g.Wait(); err != nil {
		slog.Error("Service exited with error", slog.Any("error", err))
		os.Exit(-1)
	}
	slog.Info("Shutdown complete")
}
