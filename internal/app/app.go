// Package app wires configuration, logging, the directory client and the
// batch service shared by every binary.
package app

import (
	"context"
	"fmt"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/notify"
	"github.com/devplatform/directory-sync/internal/prometheus"
	gosync "github.com/devplatform/directory-sync/internal/sync"
	"github.com/sirupsen/logrus"
)

// App holds the collaborators built from one Config
type App struct {
	Config  *config.Config
	Logger  *logrus.Logger
	Client  prometheus.DirectoryInterface
	Cache   *directory.Cache
	Service *gosync.Service
}

// NewLogger builds the process logger from configuration
func NewLogger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(logging.Options{
		Level:    cfg.LogLevel,
		File:     cfg.LogFile,
		MaxAge:   cfg.LogMaxAge,
		Rotation: cfg.LogRotation,
	})
}

// New builds the instrumented client, the snapshot cache and the batch service
func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	// STEP 1: Directory client, wrapped for metrics
	opts := directory.OptionsFromConfig(cfg)
	opts.OnRetry = prometheus.ObserveRetry
	client := prometheus.NewDirectoryCollector(directory.NewClient(opts, logger))

	// STEP 2: Snapshot cache in front of the instrumented client
	cache := directory.NewCache(client, cfg.UsersCacheTTL, cfg.DepartmentsCacheTTL, logger)
	cache.OnRefresh = prometheus.ObserveRefresh

	// STEP 3: Optional welcome notifications
	var notifier notify.Notifier
	if cfg.WelcomeEnabled {
		smtpNotifier, err := notify.NewSMTPNotifier(notify.OptionsFromConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure welcome notifications: %w", err)
		}
		notifier = smtpNotifier
	}

	// STEP 4: Batch service
	serviceOpts, err := gosync.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Client:  client,
		Cache:   cache,
		Service: gosync.NewService(client, cache, notifier, serviceOpts, logger),
	}, nil
}

// CheckToken verifies the credential is bound to the organization and carries every required scope
func (a *App) CheckToken(ctx context.Context) (*directory.TokenInfo, error) {
	info, err := a.Client.CheckToken(ctx, a.Config.OrgID, a.Config.RequiredScopes)
	if err != nil {
		return info, fmt.Errorf("credential check failed: %w", err)
	}
	return info, nil
}
