package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"caseflow/internal/api"
	"caseflow/internal/auth"
	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/jobs"
	"caseflow/internal/pubsub"
	"caseflow/internal/schema"
	"caseflow/internal/service"
	"caseflow/internal/storage"
	"caseflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	*rootOptions
	Memory   bool
	SeedPath string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference backend (REST + WebSocket)",
		Long:  `Run the reference backend.

By default cases live in Postgres, changes fan out through Redis and trashed
cases are purged by background jobs. With --memory everything stays in this
process, which is enough for local development.

Example:
  caseflow serve
  caseflow serve --memory --seed examples/seed.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Memory, "memory", false, "keep all data in memory (no Postgres or Redis)")
	cmd.Flags().StringVar(&opts.SeedPath, "seed", "", "reference data to load in --memory mode")

	return cmd
}

// backendStore is what serve needs from a persistence layer
type backendStore interface {
	service.Repository
	api.ReferenceQueries
	jobs.Purger
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, logger := opts.cfg, opts.log

	var (
		repo backendStore
		rdb  *redis.Client
	)
	if opts.Memory {
		mem := service.NewMemoryRepository()
		if opts.SeedPath != "" {
			seed, err := config.LoadSeed(opts.SeedPath)
			if err != nil {
				return err
			}
			mem.SetDepartments(seed.Departments...)
			mem.Seed(seed.Labels, seed.Templates, seed.Companies)
		}
		repo = mem
		logger.Info("Using in-memory backend")
	} else {
		dbPool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer dbPool.Close()
		repo = dbPool.Queries

		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	// Pub/sub bus and WebSocket hub
	bus := pubsub.New(rdb, logger)
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	bus.SetWSHub(hub)
	go func() {
		if err := bus.Listen(ctx); err != nil {
			logger.Error("Change listener stopped", zap.Error(err))
		}
	}()

	files, err := storage.NewLocalStorage(cfg.Storage.BaseDir, cfg.Storage.BaseURL)
	if err != nil {
		return err
	}

	svc := service.NewCaseService(repo, schema.NewCompilerWithCache(256), bus, logger)
	svc.SetStorage(files, &cfg.Storage.Policy)
	svc.SetRetention(cfg.Retention)

	// Background jobs
	if rdb != nil {
		jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, repo, cfg.Retention, logger)
		if err := jobServer.Start(); err != nil {
			return fmt.Errorf("failed to start job server: %w", err)
		}
		defer jobServer.Stop()
		defer jobClient.Close()
		svc.SetJobClient(service.NewAsynqJobClient(jobClient))
	} else {
		go sweepTrash(ctx, repo, cfg.Retention, logger)
	}

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(60*time.Second)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/", api.Routes(api.Dependencies{
		Cases:     svc,
		Reference: repo,
		Files:     files,
		Hub:       hub,
		Auth:      auth.NewJWTConfig(cfg.JWTSecret, cfg.DevAuth),
		Log:       logger,
	}))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	errc := make(chan error, 1)
	logger.Info("Starting server", zap.String("addr", cfg.Addr), zap.Bool("dev_auth", cfg.DevAuth))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}

// sweepTrash purges expired trash when no job queue is available
func sweepTrash(ctx context.Context, repo backendStore, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		trashed, err := repo.ListTrash(ctx)
		if err != nil {
			log.Warn("Failed to list trash", zap.Error(err))
			continue
		}
		cutoff := time.Now().Add(-retention)
		for _, t := range trashed {
			if t.DeletedAt.After(cutoff) {
				continue
			}
			if _, err := repo.PurgeCase(ctx, t.Case.ID, cutoff); err != nil {
				log.Warn("Failed to purge case", zap.String("case_id", t.Case.ID), zap.Error(err))
			}
		}
	}
}
