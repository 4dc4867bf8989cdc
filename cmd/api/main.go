package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mindmap/api/internal/app"
	"mindmap/api/internal/auth"
	"mindmap/api/internal/config"
	"mindmap/api/internal/email"
	"mindmap/api/internal/gitrepo"
	"mindmap/api/internal/observability"
	"mindmap/api/internal/presence"
	"mindmap/api/internal/realtime"
	"mindmap/api/internal/search"
	"mindmap/api/internal/session"
	"mindmap/api/internal/store"
	"mindmap/api/internal/upload"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()
	ctx := context.Background()

	fatal := func(msg string, err error) {
		logger.Error(msg, "error", err)
		os.Exit(1)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxConns})
	if err != nil {
		fatal("database connection failed", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		fatal("migrations failed", err)
	}
	logger.Info("database ready", slog.Int("migrations_applied", len(applied)))
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		fatal("failed to create repos dir", err)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Dependencies{
		Store:  dataStore,
		Git:    gitrepo.New(cfg.ReposDir),
		Logger: logger,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			fatal("redis connection failed", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		logger.Info("using postgres for session storage")
		deps.Sessions = dataStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, search.NewPostgres(db), logger)
	defer searchService.Close()
	deps.Search = searchService
	go func() {
		// Meilisearch may still be starting; give the health loop a moment.
		time.Sleep(5 * time.Second)
		searchService.ReindexAll(ctx)
	}()

	if strings.TrimSpace(cfg.GoogleClientID) != "" {
		deps.Google = auth.NewGoogleVerifier(cfg.GoogleClientID, cfg.GoogleClientSecret, "", cfg.GoogleUserInfoURL)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set, sign-in disabled")
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := upload.NewMinioStore(ctx, upload.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			fatal("object storage connection failed", err)
		}
		deps.Uploads = upload.NewService(objects, cfg.UploadPublicURL, logger)
	} else {
		logger.Warn("MINIO_ENDPOINT not set, uploads disabled")
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: "Mind Maps",
	})
	if mail.IsConfigured() {
		deps.Mailer = mail
	} else {
		logger.Info("SMTP not configured, collaborator invites disabled")
	}

	service := app.New(cfg, deps)
	hub := realtime.NewHub(app.PresenceAuth(service), cfg.CORSOrigin, logger, metrics)
	registry := presence.NewRegistry(hub, logger, metrics)
	hub.Bind(registry)
	service.BindPresence(registry)

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin: cfg.CORSOrigin,
		Realtime:   hub,
		Logger:     logger,
		Metrics:    metrics,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("mindmap api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	registry.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
