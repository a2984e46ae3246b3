package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funneldash/dashcore/internal/api"
	"github.com/funneldash/dashcore/internal/auth"
	"github.com/funneldash/dashcore/internal/config"
	"github.com/funneldash/dashcore/internal/dashboard"
	"github.com/funneldash/dashcore/internal/database"
	"github.com/funneldash/dashcore/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	dumpConfig := flag.Bool("dump-config", false, "print an example configuration and exit")
	issueToken := flag.String("issue-token", "", "print an operator token for the given username and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for an operator password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	if *dumpConfig {
		if err := config.DumpExampleConfig(os.Stdout); err != nil {
			log.Fatalf("Failed to write example config: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	authService, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}
	if err := authService.SetOperators(operators(cfg.Auth)); err != nil {
		log.Fatalf("Failed to load operators: %v", err)
	}

	if *issueToken != "" {
		token, expires, err := authService.IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
		return
	}

	logger := config.InitLogger(cfg.Logging, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, authService, logger); err != nil {
		logger.Error("dashcore exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, authService *auth.Service, logger *slog.Logger) error {
	logger.Info("starting dashcore",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"channels", len(cfg.Realtime.Channels),
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("DB init failed: %w", err)
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := database.RunMigrations(db); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("change triggers installed")
	}

	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	opts, err := serviceOptions(cfg)
	if err != nil {
		return err
	}

	metrics := telemetry.New(telemetryConfig(cfg.Metrics))
	svc, err := dashboard.NewService(dashboard.Deps{
		Source:  database.NewListenSource(database.PoolListener(pool), cfg.Realtime.NotifyChannel, logger),
		Querier: database.NewRefreshQueries(db),
		Logger:  logger,
		Metrics: metrics,
	}, opts)
	if err != nil {
		return fmt.Errorf("dashboard init failed: %w", err)
	}

	hub := api.NewHub(svc, cfg.CORS.AllowedOrigins, logger)
	defer hub.Close()

	router := api.NewRouter(api.RouterDeps{
		Dashboard:      svc,
		Auth:           authService,
		TokenTTL:       cfg.Auth.TokenTTL(),
		Hub:            hub,
		Logger:         logger,
		Metrics:        metrics.Handler(),
		CORS:           cfg.CORS,
		RefreshTimeout: cfg.Refresh.Timeout(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	// Seed counters before the first change arrives
	g.Go(func() error {
		refreshCtx, cancel := context.WithTimeout(gctx, cfg.Refresh.Timeout())
		defer cancel()
		if _, err := svc.Refresh(refreshCtx); err != nil {
			logger.Warn("initial refresh failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Streams are hijacked connections; close them before Shutdown waits
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
