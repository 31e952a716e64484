// Command server runs the materials-request backend: it loads configuration,
// opens the SQLite store, wires the workflow service, mounts the HTTP API,
// starts the background stale-claim sweep, and shuts everything down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/ptoflow/materials-backend/internal/config"
	"github.com/ptoflow/materials-backend/internal/excel"
	httpapi "github.com/ptoflow/materials-backend/internal/http"
	"github.com/ptoflow/materials-backend/internal/mailer"
	"github.com/ptoflow/materials-backend/internal/observability"
	"github.com/ptoflow/materials-backend/internal/repo"
	"github.com/ptoflow/materials-backend/internal/services"
	"github.com/ptoflow/materials-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Error().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("gorm otel plugin")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	generator, err := excel.NewGenerator(cfg.TemplatePath, cfg.Workflow.Place)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TemplatePath).Msg("load template")
	}

	dispatcher, err := mailer.NewSMTPDispatcher(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		StartTLS: cfg.SMTP.StartTLS,
		Timeout:  cfg.SMTP.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("smtp dispatcher")
	}

	requests, counters, cooldowns, objects, settingsRepo := httpapi.NewRepoShims()

	settings := &services.SettingsService{
		DB:                     db,
		Repo:                   settingsRepo,
		DefaultCooldownMinutes: cfg.Workflow.CooldownMinutes,
		DefaultRecipientEmail:  cfg.Workflow.RecipientEmail,
	}
	if err := settings.Seed(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed settings")
	}

	svc := &services.MaterialsService{
		DB:            db,
		Store:         requests,
		Counters:      counters,
		Cooldowns:     cooldowns,
		Objects:       objects,
		Settings:      settings,
		Generator:     generator,
		Dispatch:      dispatcher,
		MaxTextRunes:  cfg.Workflow.MaxTextRunes,
		StaleClaimTTL: cfg.Workflow.StaleClaimTTL,
	}

	// Requests stranded in "sending" by a crash are failed by this sweep so
	// callers get a definitive answer instead of a draft stuck forever.
	go func() {
		ticker := time.NewTicker(cfg.Workflow.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := svc.ReclaimStuck(ctx); err != nil {
					log.Error().Err(err).Msg("stale claim sweep")
				}
			}
		}
	}()

	engine := gin.New()
	httpapi.RegisterRoutes(engine, svc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
