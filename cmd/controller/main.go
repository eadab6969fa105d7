package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devplatform/directory-sync/internal/app"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/prometheus"
	gosync "github.com/devplatform/directory-sync/internal/sync"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(config.ExitCode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Spool controller exited")
		os.Exit(config.ExitCode)
	}
	logger.Info("Shutdown complete")
}

// run drives the spool controller until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"spool_dir":     cfg.SpoolDir,
		"scan_interval": cfg.SpoolInterval,
	}).Info("Starting directory spool controller")
	if cfg.SpoolSecret == "" {
		logger.Warn("SPOOL_UPLOAD_SECRET not set, /upload rejects every request")
	}
	prometheus.Init()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.HTTPTimeout)
	_, err = a.CheckToken(verifyCtx)
	cancel()
	if err != nil {
		return err
	}

	controller := gosync.NewController(a.Service, cfg, logger)
	mux := http.NewServeMux()
	controller.SetupHTTPHandlers(mux)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  time.Minute, // uploads
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("Controller HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	controller.Start()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		controller.Stop()
		return fmt.Errorf("controller HTTP server: %w", err)
	}

	controller.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Controller HTTP server shutdown failed")
	}
	return nil
}
