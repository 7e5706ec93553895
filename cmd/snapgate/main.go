package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/snapgate/internal/adapter/driven/github"
	"github.com/ericfisherdev/snapgate/internal/adapter/driven/s3archive"
	sqliteadapter "github.com/ericfisherdev/snapgate/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/snapgate/internal/adapter/driven/visualdiff"
	httphandler "github.com/ericfisherdev/snapgate/internal/adapter/driving/http"
	"github.com/ericfisherdev/snapgate/internal/adapter/driving/realtime"
	"github.com/ericfisherdev/snapgate/internal/application"
	"github.com/ericfisherdev/snapgate/internal/config"
	"github.com/ericfisherdev/snapgate/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"remote_base_url", cfg.RemoteBaseURL,
		"poll_interval", cfg.PollInterval,
		"poll_timeout", cfg.PollTimeout,
		"require_webhook_signature", cfg.WebhookRequireSignature,
	)
	if cfg.SecretKey == nil {
		slog.Warn("SNAPGATE_SECRET_KEY not set, projects with tokens or webhook secrets cannot be stored")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	projectStore := sqliteadapter.NewProjectRepo(db, cfg.SecretKey)
	runStore := sqliteadapter.NewRunRepo(db)
	resultStore := sqliteadapter.NewResultRepo(db)
	webhookStore := sqliteadapter.NewWebhookRepo(db)
	baselineStore := sqliteadapter.NewBaselineRepo(db)

	// 6. Optional outbound integrations.
	var reporter driven.CommitStatusReporter
	if cfg.HasGitHubToken() {
		gh := githubadapter.NewStatusReporter(cfg.GitHubToken)
		loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		login, err := gh.Login(loginCtx)
		cancel()
		if err != nil {
			slog.Warn("github token rejected, commit statuses disabled", "error", err)
		} else {
			reporter = gh
			slog.Info("commit status reporting enabled", "github_user", login)
		}
	}

	var archive driven.BaselineArchive
	if cfg.HasS3Archive() {
		a, err := s3archive.New(ctx, s3archive.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, slog.Default())
		if err != nil {
			return err
		}
		archive = a
		slog.Info("baseline archive enabled", "bucket", cfg.S3Bucket)
	}

	// 7. Notification channel and services.
	hub := realtime.NewHub(cfg.WSAllowedOrigins, slog.Default())
	clients := application.NewRemoteClientProvider(visualdiff.NewFactory(cfg.RemoteTimeout))
	supervisor := application.NewPollSupervisor()

	projectSvc := application.NewProjectService(projectStore, clients, supervisor, hub, cfg.RemoteBaseURL, cfg.RemoteTimeout)
	resultSvc := application.NewResultService(projectStore, runStore, resultStore, clients, hub, cfg.RemoteTimeout)
	runSvc := application.NewRunService(projectStore, runStore, resultSvc, clients, supervisor, hub,
		application.NewStatusMirror(reporter),
		application.RunConfig{
			PollInterval:  cfg.PollInterval,
			PollTimeout:   cfg.PollTimeout,
			RemoteTimeout: cfg.RemoteTimeout,
		})
	webhookSvc := application.NewWebhookService(projectStore, runStore, webhookStore, runSvc, resultSvc,
		application.WebhookConfig{
			RequireSignature: cfg.WebhookRequireSignature,
			Retention:        cfg.WebhookRetention,
		})
	baselineSvc := application.NewBaselineService(projectStore, runStore, resultStore, baselineStore, archive)

	// 8. Pick up runs a previous process left in flight.
	resumed, err := runSvc.Resume(ctx)
	if err != nil {
		slog.Error("resume polling failed", "error", err)
	}
	slog.Info("poll tasks resumed", "count", resumed)

	// 9. HTTP server.
	apiHandler := httphandler.NewHandler(httphandler.Services{
		Projects:  projectSvc,
		Runs:      runSvc,
		Results:   resultSvc,
		Webhooks:  webhookSvc,
		Baselines: baselineSvc,
	}, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewRouter(apiHandler, hub, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("snapgate started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown: drain HTTP, stop poll tasks, close sockets.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		slog.Error("poll supervisor shutdown error", "error", err, "remaining", supervisor.Count())
	}
	hub.Close()

	slog.Info("shutdown complete")
	return nil
}
