// Command trustrewards runs the trust and rewards engine HTTP server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/trustedlocal/trustrewards/internal/app"
	"github.com/trustedlocal/trustrewards/internal/app/httpapi"
	"github.com/trustedlocal/trustrewards/internal/app/metrics"
	"github.com/trustedlocal/trustrewards/internal/app/storage/postgres"
	"github.com/trustedlocal/trustrewards/internal/config"
	"github.com/trustedlocal/trustrewards/internal/platform/migrations"
	"github.com/trustedlocal/trustrewards/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("trustrewards").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var stores app.Stores
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.WithError(err).Error("open postgres")
			os.Exit(1)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Error("ping postgres")
			os.Exit(1)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}

		pg := postgres.New(db)
		stores = app.Stores{
			Businesses: pg,
			Profiles:   pg,
			Hires:      pg,
			Referrals:  pg,
			Rewards:    pg,
		}
		log.Info("using postgres store")
	} else {
		log.Warn("no postgres DSN configured; using in-memory store")
	}

	application, err := app.New(stores, app.Options{
		FulfillmentInterval: cfg.Rewards.FulfillmentInterval,
		FulfillmentTimeout:  cfg.Rewards.FulfillmentTimeout,
		AuditSchedule:       cfg.Audit.Schedule,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application, cfg.Referrals.Origin))

	handler := metrics.InstrumentHandler(httpapi.WrapWithAuth(mux, cfg.Server.APITokens, log))

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("trustrewards stopped")
}
