package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devplatform/directory-sync/internal/app"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/graphql"
	"github.com/devplatform/directory-sync/internal/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(config.ExitCode)
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	logger.WithField("org_id", cfg.OrgID).Info("Starting Directory Sync API")
	prometheus.Init()

	// STEP 1: directory client, snapshot cache, batch service
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}

	// STEP 2: refuse to serve with a token that cannot manage the organization
	verifyCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	info, err := a.CheckToken(verifyCtx)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Directory credential rejected")
	}
	logger.WithField("login", info.Login).Info("Directory credential verified")

	// STEP 3: API and metrics listeners
	schema, err := graphql.NewSchema(a.Client, a.Cache, a.Service, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize GraphQL")
	}
	api := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newRouter(cfg, schema, a.Client, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // imports of large tables run inside the request
		IdleTimeout:  60 * time.Second,
	}
	metrics := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	go listen(api, "api", logger)
	go listen(metrics, "metrics", logger)

	// STEP 4: block until SIGINT/SIGTERM, then drain
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	shutdown(cfg, logger, api, metrics)
	logger.Info("Shutdown complete")
}

func listen(srv *http.Server, name string, logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"listener": name,
		"addr":     srv.Addr,
	}).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).WithField("listener", name).Fatal("Listener failed")
	}
}

func shutdown(cfg *config.Config, logger *logrus.Logger, servers ...*http.Server) {
	timeout := 30 * time.Second
	if cfg.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.ShutdownTimeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).WithField("addr", srv.Addr).Error("Server shutdown failed")
		}
	}
}
