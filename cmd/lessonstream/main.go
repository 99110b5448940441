// Command lessonstream serves the protected lesson playback API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sendrec/lessonstream/internal/config"
	"github.com/sendrec/lessonstream/internal/database"
	"github.com/sendrec/lessonstream/internal/email"
	"github.com/sendrec/lessonstream/internal/geoip"
	"github.com/sendrec/lessonstream/internal/lesson"
	"github.com/sendrec/lessonstream/internal/logging"
	"github.com/sendrec/lessonstream/internal/metrics"
	"github.com/sendrec/lessonstream/internal/otpstore"
	"github.com/sendrec/lessonstream/internal/server"
	"github.com/sendrec/lessonstream/internal/storage"
	"github.com/sendrec/lessonstream/internal/telemetry"
	"github.com/sendrec/lessonstream/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := config.LoadDotenv(); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.LoadService()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("lessonstream: exited", "error", err)
		os.Exit(1)
	}
	slog.Info("lessonstream: shutdown complete")
}

func run(ctx context.Context, cfg config.Service) error {
	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := tracing.Shutdown(context.Background()); err != nil {
			slog.Warn("lessonstream: tracer shutdown failed", "error", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.Connect(startCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	slog.Info("lessonstream: database migrations applied")

	store, err := storage.New(startCtx, storage.Config{
		Endpoint:       cfg.Storage.Endpoint,
		PublicEndpoint: cfg.Storage.PublicEndpoint,
		Bucket:         cfg.Storage.Bucket,
		AccessKey:      cfg.Storage.AccessKey,
		SecretKey:      cfg.Storage.SecretKey,
		Region:         cfg.Storage.Region,
	})
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := store.EnsureBucket(startCtx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}
	if len(cfg.AllowedOrigins) > 0 {
		if err := store.SetCORS(startCtx, cfg.AllowedOrigins); err != nil {
			slog.Warn("lessonstream: bucket CORS not applied", "error", err)
		}
	}
	slog.Info("lessonstream: storage bucket ready", "bucket", cfg.Storage.Bucket)

	rdb, err := connectRedis(startCtx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	geo, err := geoip.New(cfg.GeoIPDBPath)
	if err != nil {
		return fmt.Errorf("geoip: %w", err)
	}
	defer func() { _ = geo.Close() }()

	completions := webhook.New(db.Pool, webhook.Config{URL: cfg.Webhook.URL, Secret: cfg.Webhook.Secret})
	if completions.Enabled() {
		slog.Info("lessonstream: lesson completion webhook enabled")
	}

	srv := server.New(server.Config{
		DB:     db.Pool,
		Pinger: db,
		Lesson: lesson.Deps{
			Storage: store,
			Codes: otpstore.New(rdb, otpstore.Config{
				TTL:      cfg.OTPTTL,
				Cooldown: cfg.OTPResendCooldown,
			}),
			Sender: email.New(email.Config{
				BaseURL:    cfg.Listmonk.URL,
				Username:   cfg.Listmonk.User,
				Password:   cfg.Listmonk.Password,
				TemplateID: cfg.Listmonk.TemplateID,
				Allowlist:  email.ParseAllowlist(cfg.Listmonk.Allowlist),
			}),
			Geo:       geo,
			Leases:    lesson.NewLeases(rdb, cfg.DeviceLeaseTTL),
			Completed: completions,
		},
		LessonConfig: lesson.Config{
			VideoSessionSecret: cfg.VideoSessionSecret,
			VideoSessionTTL:    cfg.VideoSessionTTL,
			GlobalSessions:     cfg.GlobalVideoSessions,
			SignedURLTTL:       cfg.SignedURLTTL,
		},
		JWTSecret:       cfg.JWTSecret,
		Metrics:         metrics.New(),
		AllowedOrigins:  cfg.AllowedOrigins,
		BaseURL:         cfg.BaseURL,
		StorageEndpoint: storageOrigin(cfg.Storage),
		EnableDocs:      cfg.EnableDocs,
		Version:         cfg.Version,
	})

	return serve(ctx, newHTTPServer(cfg.Port, telemetry.Handler(srv)))
}

func connectRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// storageOrigin is where browsers fetch presigned media from.
func storageOrigin(cfg config.Storage) string {
	if cfg.PublicEndpoint != "" {
		return cfg.PublicEndpoint
	}
	return cfg.Endpoint
}

func newHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs httpServer until ctx is cancelled, then drains it.
func serve(ctx context.Context, httpServer *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("lessonstream: listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("lessonstream: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
