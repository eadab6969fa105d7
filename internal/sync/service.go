// Package sync runs whole import batches and the spool controller.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/conflict"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/hierarchy"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/mutation"
	"github.com/devplatform/directory-sync/internal/notify"
	"github.com/devplatform/directory-sync/internal/prometheus"
	"github.com/devplatform/directory-sync/internal/rows"
	"github.com/devplatform/directory-sync/internal/validate"
	"github.com/sirupsen/logrus"
)

// ErrNotConfirmed aborts a batch whose suspicious rows were declined
var ErrNotConfirmed = errors.New("suspicious rows were not confirmed")

// Directory is the part of the directory API an import writes through
type Directory interface {
	mutation.Client
	hierarchy.Client
}

// Snapshots is the snapshot cache shared by every stage of an import
type Snapshots interface {
	Users(ctx context.Context, force bool) (*directory.UserSnapshot, time.Time, error)
	Departments(ctx context.Context, force bool) (*directory.Hierarchy, time.Time, error)
	Invalidate()
}

// Confirmer asks an operator whether rows with warnings may be applied
type Confirmer interface {
	Confirm(ctx context.Context, suspicious []*models.CandidateUser) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, suspicious []*models.CandidateUser) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, suspicious []*models.CandidateUser) (bool, error) {
	return f(ctx, suspicious)
}

// AcceptAll confirms every suspicious row
var AcceptAll Confirmer = ConfirmFunc(func(context.Context, []*models.CandidateUser) (bool, error) {
	return true, nil
})

// Options configures a Service
type Options struct {
	Validate   validate.Options
	Execution  mutation.Options
	ClearValue string
}

// OptionsFromConfig maps process configuration to service options
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	v, err := validate.OptionsFromConfig(cfg, models.ModeCreate)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Validate:   v,
		Execution:  mutation.OptionsFromConfig(cfg),
		ClearValue: cfg.ClearValue,
	}, nil
}

// ImportOptions configures one batch
type ImportOptions struct {
	Mode models.Mode
	// DryRun is OR-ed with the configured dry run
	DryRun bool
	// AnalyzeOnly stops after validation and the uniqueness check
	AnalyzeOnly bool
	// Confirmer is asked about suspicious rows; nil declines them
	Confirmer Confirmer
}

// ImportResult describes everything one batch did
type ImportResult struct {
	Mode        models.Mode
	Rows        int
	Correct     []*models.CandidateUser
	Suspicious  []*models.CandidateUser
	Rejected    []*validate.Result
	Conflicts   []conflict.Conflict
	Report      *models.BatchReport
	Departments *hierarchy.EnsureResult
	Assignments []hierarchy.AssignmentResult
}

// Mutated reports whether the batch reached the executor
func (r *ImportResult) Mutated() bool {
	return r.Report != nil
}

// Service runs import batches end to end
type Service struct {
	client    Directory
	snapshots Snapshots
	notifier  notify.Notifier
	opts      Options
	logger    *logrus.Logger
}

// NewService creates a batch service. notifier may be nil.
func NewService(client Directory, snapshots Snapshots, notifier notify.Notifier, opts Options, logger *logrus.Logger) *Service {
	if opts.ClearValue == "" {
		opts.ClearValue = "-"
	}
	return &Service{
		client:    client,
		snapshots: snapshots,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// Import parses, validates and applies one table. Any format error, rejected
// row, declined confirmation or uniqueness conflict returns before the first
// remote mutation. Once execution starts, per-row failures are reported in
// ImportResult.Report and summarized by a *models.PartialBatchFailure.
func (s *Service) Import(ctx context.Context, input io.Reader, opts ImportOptions) (*ImportResult, error) {
	if opts.Mode == "" {
		opts.Mode = models.ModeCreate
	}
	dryRun := opts.DryRun || s.opts.Execution.DryRun
	result := &ImportResult{Mode: opts.Mode}
	log := s.logger.WithFields(logrus.Fields{"mode": opts.Mode, "dry_run": dryRun})

	// STEP 1: Parse the table
	raw, err := rows.Parse(input, rows.Options{Mode: opts.Mode, ClearValue: s.opts.ClearValue})
	if err != nil {
		log.WithError(err).Error("Input rejected")
		prometheus.ObserveAbort(opts.Mode, 0)
		return result, err
	}
	result.Rows = len(raw)
	if len(raw) == 0 {
		log.Info("Input has no data rows")
		return result, nil
	}

	// STEP 2: Validate every row against the current hierarchy
	tree, _, err := s.snapshots.Departments(ctx, false)
	if err != nil {
		return result, fmt.Errorf("failed to load departments: %w", err)
	}
	vopts := s.opts.Validate
	vopts.Mode = opts.Mode
	partition := validate.New(vopts, tree, s.logger).Partition(raw)
	result.Correct = partition.Correct
	result.Suspicious = partition.Suspicious
	result.Rejected = partition.Rejected
	if err := partition.Err(); err != nil {
		log.WithField("rejected", len(partition.Rejected)).Error("Batch rejected by validation")
		prometheus.ObserveAbort(opts.Mode, len(partition.Rejected))
		return result, err
	}
	candidates := partition.Candidates()

	// STEP 3: Check uniqueness against a fresh snapshot
	ok, conflicts, err := conflict.NewDetector(s.snapshots, s.logger).CheckUniqueness(ctx, candidates, opts.Mode)
	if err != nil {
		return result, err
	}
	result.Conflicts = conflicts
	if opts.AnalyzeOnly {
		log.WithFields(logrus.Fields{
			"correct":    len(result.Correct),
			"suspicious": len(result.Suspicious),
			"conflicts":  len(conflicts),
		}).Info("Analysis finished")
		return result, conflict.Err(conflicts)
	}
	if !ok {
		prometheus.ObserveAbort(opts.Mode, len(conflicts))
		return result, conflict.Err(conflicts)
	}

	// STEP 4: Suspicious rows need an explicit yes
	if len(partition.Suspicious) > 0 {
		confirmed := false
		if opts.Confirmer != nil {
			confirmed, err = opts.Confirmer.Confirm(ctx, partition.Suspicious)
			if err != nil {
				return result, fmt.Errorf("failed to confirm suspicious rows: %w", err)
			}
		}
		if !confirmed {
			log.WithField("suspicious", len(partition.Suspicious)).Warn("Suspicious rows declined, nothing applied")
			prometheus.ObserveAbort(opts.Mode, 0)
			return result, ErrNotConfirmed
		}
	}

	// STEP 5: Apply the batch
	execOpts := s.opts.Execution
	execOpts.DryRun = dryRun
	executor := mutation.NewExecutor(s.client, s.snapshots, s.notifier, execOpts, s.logger)
	var applied *mutation.Result
	if opts.Mode == models.ModeUpdate {
		applied, err = executor.Update(ctx, candidates)
		if err != nil {
			return result, err
		}
	} else {
		applied = executor.Create(ctx, candidates)
	}
	result.Report = applied.Report

	// STEP 6: Create missing departments and move identities into them
	if len(applied.Pending) > 0 {
		if err := s.placeUsers(ctx, dryRun, applied, result); err != nil {
			result.Report.Errors = append(result.Report.Errors, err.Error())
			log.WithError(err).Error("Department reconciliation failed")
		}
	}

	if !dryRun {
		s.snapshots.Invalidate()
	}
	prometheus.ObserveBatch(result.Report)

	log.WithFields(logrus.Fields{
		"created": result.Report.Count(models.OutcomeCreated),
		"updated": result.Report.Count(models.OutcomeUpdated),
		"skipped": result.Report.Count(models.OutcomeSkipped),
		"failed":  result.Report.Count(models.OutcomeFailed),
	}).Info("Import finished")
	return result, result.Report.Err()
}

func (s *Service) placeUsers(ctx context.Context, dryRun bool, applied *mutation.Result, result *ImportResult) error {
	reconciler := hierarchy.NewReconciler(s.client, s.snapshots, s.logger)
	reconciler.DryRun = dryRun

	paths := make([]string, 0, len(applied.Pending))
	for _, a := range applied.Pending {
		paths = append(paths, a.Path)
	}
	ensured, err := reconciler.SyncFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	result.Departments = ensured
	result.Report.DepartmentsCreated = ensured.Created
	if ensured.Errors != nil {
		for _, e := range ensured.Errors.Errors {
			result.Report.Errors = append(result.Report.Errors, e.Error())
		}
	}

	assigned, err := reconciler.AssignUsers(ctx, applied.Pending)
	result.Assignments = assigned
	for _, a := range assigned {
		if a.Err == nil {
			continue
		}
		result.Report.Errors = append(result.Report.Errors, a.Err.Error())
		for i := range result.Report.Outcomes {
			if result.Report.Outcomes[i].Login == a.Login {
				result.Report.Outcomes[i].Warnings = append(result.Report.Outcomes[i].Warnings, "department: "+a.Err.Error())
			}
		}
	}
	return err
}
