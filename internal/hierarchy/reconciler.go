package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Client is the part of the directory API the reconciler mutates through
type Client interface {
	CreateDepartment(ctx context.Context, name string, parentID int64) (*models.Department, error)
	DeleteDepartment(ctx context.Context, id int64) error
	PatchUser(ctx context.Context, id string, patch *directory.UserPatch) (*models.DirectoryUser, error)
}

// Snapshots provides cached directory state
type Snapshots interface {
	Users(ctx context.Context, force bool) (*directory.UserSnapshot, time.Time, error)
	Departments(ctx context.Context, force bool) (*directory.Hierarchy, time.Time, error)
}

// Reconciler creates missing departments level by level
type Reconciler struct {
	client    Client
	snapshots Snapshots
	logger    *logrus.Logger

	// DryRun logs would-be creates and patches without calling the API
	DryRun bool
}

// NewReconciler creates a reconciler
func NewReconciler(client Client, snapshots Snapshots, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		client:    client,
		snapshots: snapshots,
		logger:    logger,
	}
}

// EnsureResult contains the result of an Ensure run
type EnsureResult struct {
	Nodes     []models.PendingDepartmentPath
	Created   []string
	Resolved  map[string]int64
	Refreshes int
	Errors    *multierror.Error
}

// Err returns the accumulated per-node failures
func (r *EnsureResult) Err() error {
	return r.Errors.ErrorOrNil()
}

// ID returns the resolved id of a path
func (r *EnsureResult) ID(path string) (int64, bool) {
	id, ok := r.Resolved[directory.NormalizePath(path)]
	return id, ok
}

// Ensure makes every requested path exist remotely. Nodes at one level are
// created before any node of the next level, and the hierarchy is refreshed
// once per level that had creates. A failed node fails its whole subtree but
// never its siblings.
func (r *Reconciler) Ensure(ctx context.Context, paths []string) (*EnsureResult, error) {
	pending := Flatten(paths)
	result := &EnsureResult{
		Resolved: map[string]int64{"": models.RootDepartmentID},
	}
	if len(pending) == 0 {
		return result, nil
	}

	// STEP 1: Load a fresh hierarchy
	tree, _, err := r.snapshots.Departments(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"requested": len(paths),
		"nodes":     len(pending),
		"existing":  tree.Len(),
		"dry_run":   r.DryRun,
	}).Info("Reconciling department hierarchy")

	failed := make(map[string]bool)
	placeholder := int64(0)

	// STEP 2: Walk levels top-down
	for _, level := range Levels(pending) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		returned := make(map[string]int64)
		created := 0
		for _, node := range level {
			path := node.Path()
			if failed[node.ParentPath] {
				failed[path] = true
				result.Errors = multierror.Append(result.Errors,
					fmt.Errorf("department %q skipped: parent %q was not created", path, node.ParentPath))
				continue
			}
			parentID, ok := result.Resolved[node.ParentPath]
			if !ok {
				return result, fmt.Errorf("parent %q of department %q was never resolved", node.ParentPath, path)
			}
			if _, exists := tree.IDByPath(path); exists {
				continue
			}

			if r.DryRun {
				placeholder--
				returned[path] = placeholder
				result.Created = append(result.Created, path)
				r.logger.WithFields(logrus.Fields{
					"path":      path,
					"parent_id": parentID,
				}).Info("Dry run: would create department")
				continue
			}

			dep, err := r.client.CreateDepartment(ctx, node.Current, parentID)
			if err != nil {
				failed[path] = true
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("failed to create department %q: %w", path, err))
				r.logger.WithError(err).WithField("path", path).Warn("Failed to create department")
				continue
			}
			created++
			returned[path] = dep.ID
			result.Created = append(result.Created, path)
			r.logger.WithFields(logrus.Fields{
				"path":      path,
				"id":        dep.ID,
				"parent_id": parentID,
			}).Info("Department created")
		}

		if created > 0 {
			tree, _, err = r.snapshots.Departments(ctx, true)
			if err != nil {
				return result, fmt.Errorf("failed to refresh departments after level %d: %w", level[0].Level, err)
			}
			result.Refreshes++
		}

		// STEP 3: Resolve ids of this level before descending
		for _, node := range level {
			path := node.Path()
			if failed[path] {
				continue
			}
			id, ok := tree.IDByPath(path)
			if !ok {
				id, ok = returned[path]
			}
			if !ok {
				failed[path] = true
				result.Errors = multierror.Append(result.Errors, fmt.Errorf("department %q not found after refresh", path))
				continue
			}
			result.Resolved[path] = id
			node.ResolvedID = id
			result.Nodes = append(result.Nodes, node)
		}
	}

	r.logger.WithFields(logrus.Fields{
		"created":   len(result.Created),
		"refreshes": result.Refreshes,
		"failed":    len(failed),
	}).Info("Department hierarchy reconciled")

	return result, nil
}

// SyncFromPaths creates every missing department listed in a department file
func (r *Reconciler) SyncFromPaths(ctx context.Context, paths []string) (*EnsureResult, error) {
	var clean []string
	seen := make(map[string]struct{})
	for _, p := range paths {
		p = directory.NormalizePath(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		r.logger.Info("No departments to synchronize")
		return &EnsureResult{Resolved: map[string]int64{"": models.RootDepartmentID}}, nil
	}
	return r.Ensure(ctx, clean)
}

// Assignment moves one identity into the department at Path
type Assignment struct {
	UserID  string
	Login   string
	Path    string
	Current int64
}

// AssignmentResult is the outcome of one assignment
type AssignmentResult struct {
	Assignment
	DepartmentID int64
	Changed      bool
	Err          error
}

// AssignUsers resolves every assignment against the current hierarchy and
// patches each identity's department individually. A failure affects only
// its own identity.
func (r *Reconciler) AssignUsers(ctx context.Context, assignments []Assignment) ([]AssignmentResult, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	tree, _, err := r.snapshots.Departments(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}

	results := make([]AssignmentResult, 0, len(assignments))
	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := AssignmentResult{Assignment: a}
		id, ok := tree.IDByPath(a.Path)
		if !ok {
			if r.DryRun {
				r.logger.WithFields(logrus.Fields{"login": a.Login, "path": a.Path}).
					Info("Dry run: would assign user to new department")
				results = append(results, res)
				continue
			}
			res.Err = fmt.Errorf("department %q does not exist", a.Path)
			r.logger.WithField("login", a.Login).WithError(res.Err).Warn("Failed to assign department")
			results = append(results, res)
			continue
		}
		res.DepartmentID = id
		if id == a.Current {
			results = append(results, res)
			continue
		}
		if r.DryRun {
			r.logger.WithFields(logrus.Fields{"login": a.Login, "department_id": id}).
				Info("Dry run: would assign user to department")
			results = append(results, res)
			continue
		}

		depID := id
		if _, err := r.client.PatchUser(ctx, a.UserID, &directory.UserPatch{DepartmentID: &depID}); err != nil {
			res.Err = fmt.Errorf("failed to assign %s to department %q: %w", a.Login, a.Path, err)
			r.logger.WithField("login", a.Login).WithError(err).Warn("Failed to assign department")
		} else {
			res.Changed = true
			r.logger.WithFields(logrus.Fields{
				"login":         a.Login,
				"department_id": id,
				"path":          a.Path,
			}).Info("User assigned to department")
		}
		results = append(results, res)
	}
	return results, nil
}

// ClearUserDepartments moves every identity outside the root department back to the root
func (r *Reconciler) ClearUserDepartments(ctx context.Context) (int, error) {
	snap, _, err := r.snapshots.Users(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to load users: %w", err)
	}

	var errs *multierror.Error
	moved := 0
	for _, u := range snap.Users() {
		if u.DepartmentID == models.RootDepartmentID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if r.DryRun {
			r.logger.WithField("login", u.Nickname).Info("Dry run: would move user to root department")
			moved++
			continue
		}
		root := models.RootDepartmentID
		if _, err := r.client.PatchUser(ctx, u.ID, &directory.UserPatch{DepartmentID: &root}); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to move %s: %w", u.Nickname, err))
			continue
		}
		moved++
	}
	r.logger.WithField("moved", moved).Info("Users moved to root department")
	return moved, errs.ErrorOrNil()
}

// DeleteAll empties every department and deletes all of them except the
// root, deepest first.
func (r *Reconciler) DeleteAll(ctx context.Context) (int, error) {
	if _, err := r.ClearUserDepartments(ctx); err != nil {
		return 0, err
	}

	tree, _, err := r.snapshots.Departments(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to load departments: %w", err)
	}
	nodes := tree.Nodes()
	if len(nodes) == 0 {
		r.logger.Info("No departments to delete")
		return 0, nil
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return tree.Depth(nodes[i].ID) > tree.Depth(nodes[j].ID)
	})

	var errs *multierror.Error
	deleted := 0
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if r.DryRun {
			r.logger.WithField("path", n.Path).Info("Dry run: would delete department")
			deleted++
			continue
		}
		if err := r.client.DeleteDepartment(ctx, n.ID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to delete department %q: %w", n.Path, err))
			continue
		}
		deleted++
	}

	if !r.DryRun {
		if _, _, err := r.snapshots.Departments(ctx, true); err != nil {
			r.logger.WithError(err).Warn("Failed to refresh departments after deletion")
		}
	}
	r.logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"total":   len(nodes),
	}).Info("Department deletion finished")
	return deleted, errs.ErrorOrNil()
}
