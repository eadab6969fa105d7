// Package mutation applies validated candidates to the remote directory.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/hierarchy"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/notify"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Outcome reasons
const (
	ReasonDryRun    = "dry-run"
	ReasonNoChanges = "no changes"
	ReasonNotFound  = "not found"
	ReasonCancelled = "cancelled"
)

// DryRunUserID stands in for the id a dry-run create would have received
const DryRunUserID = "dry-run"

// LanguageFallback decides what happens when the directory rejects a
// language change of an enabled identity
type LanguageFallback string

const (
	FallbackFail  LanguageFallback = "fail"
	FallbackSkip  LanguageFallback = "skip"
	FallbackRetry LanguageFallback = "retry"
)

// Client is the part of the directory API the executor writes through
type Client interface {
	CreateUser(ctx context.Context, req *directory.CreateUserRequest) (*models.DirectoryUser, error)
	PatchUser(ctx context.Context, id string, patch *directory.UserPatch) (*models.DirectoryUser, error)
	AddAlias(ctx context.Context, userID, alias string) error
}

// Snapshots provides the read-only directory state shared by all workers
type Snapshots interface {
	Users(ctx context.Context, force bool) (*directory.UserSnapshot, time.Time, error)
	Departments(ctx context.Context, force bool) (*directory.Hierarchy, time.Time, error)
}

// Options configures the executor
type Options struct {
	DryRun           bool
	Workers          int
	LanguageFallback LanguageFallback
}

// OptionsFromConfig maps process configuration to executor options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DryRun:           cfg.DryRun,
		Workers:          cfg.MutationWorkers,
		LanguageFallback: LanguageFallback(cfg.LanguageFallback),
	}
}

// Executor creates and updates identities row by row
type Executor struct {
	client    Client
	snapshots Snapshots
	notifier  notify.Notifier
	opts      Options
	logger    *logrus.Logger
}

// NewExecutor creates an executor. notifier may be nil.
func NewExecutor(client Client, snapshots Snapshots, notifier notify.Notifier, opts Options, logger *logrus.Logger) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LanguageFallback == "" {
		opts.LanguageFallback = FallbackFail
	}
	return &Executor{
		client:    client,
		snapshots: snapshots,
		notifier:  notifier,
		opts:      opts,
		logger:    logger,
	}
}

// Result is the report of a batch plus the department moves that still
// need a reconciled hierarchy
type Result struct {
	Report  *models.BatchReport
	Pending []hierarchy.Assignment
}

type rowResult struct {
	outcome models.Outcome
	pending *hierarchy.Assignment
}

// Create creates one identity per candidate
func (e *Executor) Create(ctx context.Context, candidates []*models.CandidateUser) *Result {
	return e.run(ctx, models.ModeCreate, candidates, func(ctx context.Context, c *models.CandidateUser) rowResult {
		return e.createOne(ctx, c)
	})
}

// Update applies the minimal diff of every candidate to its existing identity
func (e *Executor) Update(ctx context.Context, candidates []*models.CandidateUser) (*Result, error) {
	snap, _, err := e.snapshots.Users(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	tree, _, err := e.snapshots.Departments(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	return e.run(ctx, models.ModeUpdate, candidates, func(ctx context.Context, c *models.CandidateUser) rowResult {
		return e.updateOne(ctx, snap, tree, c)
	}), nil
}

// run fans rows out to a bounded worker pool; outcomes keep input order
func (e *Executor) run(ctx context.Context, mode models.Mode, candidates []*models.CandidateUser, apply func(context.Context, *models.CandidateUser) rowResult) *Result {
	report := &models.BatchReport{Mode: mode, DryRun: e.opts.DryRun, StartedAt: time.Now()}
	results := make([]rowResult, len(candidates))

	e.logger.WithFields(logrus.Fields{
		"mode":    mode,
		"rows":    len(candidates),
		"workers": e.opts.Workers,
		"dry_run": e.opts.DryRun,
	}).Info("Applying batch")

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = rowResult{outcome: outcome(c, models.OutcomeSkipped, ReasonCancelled)}
				return nil
			}
			results[i] = apply(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Report: report}
	for _, r := range results {
		report.Add(r.outcome)
		if r.pending != nil {
			result.Pending = append(result.Pending, *r.pending)
		}
	}
	report.FinishedAt = time.Now()

	e.logger.WithFields(logrus.Fields{
		"created": report.Count(models.OutcomeCreated),
		"updated": report.Count(models.OutcomeUpdated),
		"skipped": report.Count(models.OutcomeSkipped),
		"failed":  report.Count(models.OutcomeFailed),
	}).Info("Batch applied")
	return result
}

func outcome(c *models.CandidateUser, kind models.OutcomeKind, reason string) models.Outcome {
	return models.Outcome{
		Line:     c.Line,
		Login:    c.Login,
		Kind:     kind,
		Reason:   reason,
		Warnings: append([]string(nil), c.Warnings...),
	}
}

func (e *Executor) rowLogger(c *models.CandidateUser) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"line":  c.Line,
		"login": c.Login,
	})
}

func (e *Executor) createOne(ctx context.Context, c *models.CandidateUser) rowResult {
	req := BuildCreateRequest(c)
	log := e.rowLogger(c)

	if e.opts.DryRun {
		log.WithFields(logrus.Fields{
			"name":          c.DisplayName(),
			"password":      req.Password,
			"department_id": req.DepartmentID,
			"department":    c.Department.String(),
			"contacts":      len(req.Contacts),
			"aliases":       c.Aliases,
		}).Info("Dry run: user would be created")
		res := rowResult{outcome: outcome(c, models.OutcomeSkipped, ReasonDryRun)}
		if c.Department.IsPath() {
			res.pending = &hierarchy.Assignment{
				UserID:  DryRunUserID,
				Login:   c.Login,
				Path:    c.Department.Path,
				Current: req.DepartmentID,
			}
		}
		return res
	}

	user, err := e.client.CreateUser(ctx, req)
	if err != nil {
		log.WithError(err).Warn("Failed to create user")
		return rowResult{outcome: outcome(c, models.OutcomeFailed, err.Error())}
	}

	out := outcome(c, models.OutcomeCreated, "")
	out.UserID = user.ID
	log.WithField("id", user.ID).Info("User created")

	if err := e.addAliases(ctx, user.ID, c.Aliases); err != nil {
		out.Warnings = append(out.Warnings, multierrorLines(err)...)
	}
	if err := e.welcome(ctx, c); err != nil {
		log.WithError(err).Warn("Failed to send welcome message")
		out.Warnings = append(out.Warnings, err.Error())
	}

	res := rowResult{outcome: out}
	if c.Department.IsPath() {
		res.pending = &hierarchy.Assignment{
			UserID:  user.ID,
			Login:   c.Login,
			Path:    c.Department.Path,
			Current: user.DepartmentID,
		}
	}
	return res
}

func (e *Executor) updateOne(ctx context.Context, snap *directory.UserSnapshot, tree *directory.Hierarchy, c *models.CandidateUser) rowResult {
	log := e.rowLogger(c)
	current := snap.Resolve(c.Login)
	if current == nil {
		log.Warn("User to update does not exist")
		return rowResult{outcome: outcome(c, models.OutcomeFailed, ReasonNotFound)}
	}

	var pending *hierarchy.Assignment
	departmentID := c.Department.ID
	if c.Department.IsPath() {
		if id, ok := tree.IDByPath(c.Department.Path); ok {
			departmentID = id
		} else {
			pending = &hierarchy.Assignment{
				UserID:  current.ID,
				Login:   current.Nickname,
				Path:    c.Department.Path,
				Current: current.DepartmentID,
			}
		}
	}

	patch := Diff(current, c, departmentID)
	aliases := NewAliases(current, c.Aliases)
	if patch.IsEmpty() && len(aliases) == 0 {
		out := outcome(c, models.OutcomeSkipped, ReasonNoChanges)
		out.UserID = current.ID
		return rowResult{outcome: out, pending: pending}
	}

	if e.opts.DryRun {
		log.WithFields(logrus.Fields{
			"id":      current.ID,
			"fields":  patchFields(patch),
			"aliases": aliases,
		}).Info("Dry run: user would be updated")
		out := outcome(c, models.OutcomeSkipped, ReasonDryRun)
		out.UserID = current.ID
		return rowResult{outcome: out, pending: pending}
	}

	out := outcome(c, models.OutcomeUpdated, "")
	out.UserID = current.ID
	if !patch.IsEmpty() {
		warnings, err := e.applyPatch(ctx, current, patch)
		out.Warnings = append(out.Warnings, warnings...)
		if err != nil {
			log.WithError(err).Warn("Failed to update user")
			out.Kind = models.OutcomeFailed
			out.Reason = err.Error()
			return rowResult{outcome: out}
		}
	}
	if err := e.addAliases(ctx, current.ID, aliases); err != nil {
		out.Warnings = append(out.Warnings, multierrorLines(err)...)
	}
	log.WithFields(logrus.Fields{
		"id":     current.ID,
		"fields": patchFields(patch),
	}).Info("User updated")
	return rowResult{outcome: out, pending: pending}
}

// applyPatch sends a patch, deferring a language change of a disabled
// identity into an enable, patch, disable sequence
func (e *Executor) applyPatch(ctx context.Context, current *models.DirectoryUser, patch *directory.UserPatch) ([]string, error) {
	if patch.Language != nil && !current.IsEnabled {
		return nil, e.deferLanguage(ctx, current, patch)
	}

	_, err := e.client.PatchUser(ctx, current.ID, patch)
	if err == nil || patch.Language == nil || !rejected(err) {
		return nil, err
	}

	log := e.logger.WithFields(logrus.Fields{"login": current.Nickname, "language": *patch.Language})
	switch e.opts.LanguageFallback {
	case FallbackRetry:
		log.WithError(err).Warn("Language change rejected, retrying once")
		if _, err := e.client.PatchUser(ctx, current.ID, patch); err != nil {
			return nil, fmt.Errorf("language change rejected twice: %w", err)
		}
		return nil, nil
	case FallbackSkip:
		log.WithError(err).Warn("Language change rejected, applying the rest")
		rest := *patch
		rest.Language = nil
		warning := fmt.Sprintf("language: change to %q rejected by the directory, left unchanged", *patch.Language)
		if rest.IsEmpty() {
			return []string{warning}, nil
		}
		if _, err := e.client.PatchUser(ctx, current.ID, &rest); err != nil {
			return []string{warning}, err
		}
		return []string{warning}, nil
	default:
		return nil, fmt.Errorf("language change rejected: %w", err)
	}
}

func (e *Executor) deferLanguage(ctx context.Context, current *models.DirectoryUser, patch *directory.UserPatch) error {
	log := e.logger.WithFields(logrus.Fields{"login": current.Nickname, "id": current.ID})
	stayEnabled := patch.IsEnabled != nil && *patch.IsEnabled

	enable := true
	if _, err := e.client.PatchUser(ctx, current.ID, &directory.UserPatch{IsEnabled: &enable}); err != nil {
		return fmt.Errorf("failed to enable user for language change: %w", err)
	}
	log.Info("User temporarily enabled for language change")

	rest := *patch
	rest.IsEnabled = nil
	_, patchErr := e.client.PatchUser(ctx, current.ID, &rest)

	if stayEnabled {
		return patchErr
	}

	disable := false
	if _, err := e.client.PatchUser(ctx, current.ID, &directory.UserPatch{IsEnabled: &disable}); err != nil {
		log.WithError(err).Error("Failed to disable user again after language change")
		if patchErr != nil {
			return fmt.Errorf("user %s left enabled: re-disable failed (%v) after failed patch: %w", current.Nickname, err, patchErr)
		}
		return fmt.Errorf("user %s left enabled: re-disable failed: %w", current.Nickname, err)
	}
	return patchErr
}

// rejected reports whether the directory refused the request itself
func rejected(err error) bool {
	var failure *directory.RemoteFailure
	if !errors.As(err, &failure) {
		return false
	}
	return failure.Status >= http.StatusBadRequest && failure.Status < http.StatusInternalServerError &&
		failure.Status != http.StatusTooManyRequests
}

// addAliases registers each alias on its own; one failure never blocks the rest
func (e *Executor) addAliases(ctx context.Context, userID string, aliases []string) error {
	var errs *multierror.Error
	for _, alias := range aliases {
		if err := e.client.AddAlias(ctx, userID, alias); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"id": userID, "alias": alias}).Warn("Failed to add alias")
			errs = multierror.Append(errs, fmt.Errorf("alias %s: %w", alias, err))
		}
	}
	return errs.ErrorOrNil()
}

func (e *Executor) welcome(ctx context.Context, c *models.CandidateUser) error {
	to := cleared(c.PersonalEmail)
	if e.notifier == nil || to == "" {
		return nil
	}
	return e.notifier.Notify(ctx, to, map[string]string{
		notify.VarFirst:      c.Name.First,
		notify.VarLast:       c.Name.Last,
		notify.VarMiddle:     cleared(c.Name.Middle),
		notify.VarLogin:      c.Login,
		notify.VarPassword:   c.Password,
		notify.VarDepartment: c.Department.String(),
		notify.VarPosition:   cleared(c.Position),
	})
}

func multierrorLines(err error) []string {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		out := make([]string, 0, len(merr.Errors))
		for _, e := range merr.Errors {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func patchFields(p *directory.UserPatch) string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Name != nil, "name")
	add(p.Position != nil, "position")
	add(p.Language != nil, "language")
	add(p.Gender != nil, "gender")
	add(p.Birthday != nil, "birthday")
	add(p.About != nil, "about")
	add(p.Contacts != nil, "contacts")
	add(p.DepartmentID != nil, "departmentId")
	add(p.Password != nil, "password")
	add(p.PasswordChangeRequired != nil, "passwordChangeRequired")
	add(p.IsEnabled != nil, "isEnabled")
	add(p.IsAdmin != nil, "isAdmin")
	return strings.Join(fields, ",")
}
