package prometheus

import (
	"context"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
)

// DirectoryCollector wraps a DirectoryInterface and records metrics for all operations
type DirectoryCollector struct {
	next DirectoryInterface
}

// NewDirectoryCollector creates a new instrumented wrapper around a DirectoryInterface
func NewDirectoryCollector(next DirectoryInterface) *DirectoryCollector {
	return &DirectoryCollector{next: next}
}

var _ DirectoryInterface = (*DirectoryCollector)(nil)

// recordOperation records duration and count for an operation
func recordOperation(operation string, start time.Time, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}

	OperationDuration.WithLabelValues(operation, success).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(operation, success).Inc()
}

// ═══════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════

func (c *DirectoryCollector) ListUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	start := time.Now()
	users, err := c.next.ListUsers(ctx)
	recordOperation("list_users", start, err)

	if err == nil {
		UsersTotal.Set(float64(len(users)))
	}

	return users, err
}

func (c *DirectoryCollector) GetUser(ctx context.Context, id string) (*models.DirectoryUser, error) {
	start := time.Now()
	user, err := c.next.GetUser(ctx, id)
	recordOperation("get_user", start, err)
	return user, err
}

func (c *DirectoryCollector) CreateUser(ctx context.Context, req *directory.CreateUserRequest) (*models.DirectoryUser, error) {
	start := time.Now()
	user, err := c.next.CreateUser(ctx, req)
	recordOperation("create_user", start, err)
	return user, err
}

func (c *DirectoryCollector) PatchUser(ctx context.Context, id string, patch *directory.UserPatch) (*models.DirectoryUser, error) {
	start := time.Now()
	user, err := c.next.PatchUser(ctx, id, patch)
	recordOperation("patch_user", start, err)
	return user, err
}

func (c *DirectoryCollector) AddAlias(ctx context.Context, userID, alias string) error {
	start := time.Now()
	err := c.next.AddAlias(ctx, userID, alias)
	recordOperation("add_alias", start, err)
	return err
}

func (c *DirectoryCollector) RemoveAlias(ctx context.Context, userID, alias string) error {
	start := time.Now()
	err := c.next.RemoveAlias(ctx, userID, alias)
	recordOperation("remove_alias", start, err)
	return err
}

// ═══════════════════════════════════════════════════════════════════════════
// DEPARTMENT OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════

func (c *DirectoryCollector) ListDepartments(ctx context.Context) ([]models.Department, error) {
	start := time.Now()
	deps, err := c.next.ListDepartments(ctx)
	recordOperation("list_departments", start, err)

	if err == nil {
		DepartmentsTotal.Set(float64(len(deps)))
	}

	return deps, err
}

func (c *DirectoryCollector) CreateDepartment(ctx context.Context, name string, parentID int64) (*models.Department, error) {
	start := time.Now()
	dep, err := c.next.CreateDepartment(ctx, name, parentID)
	recordOperation("create_department", start, err)
	return dep, err
}

func (c *DirectoryCollector) DeleteDepartment(ctx context.Context, id int64) error {
	start := time.Now()
	err := c.next.DeleteDepartment(ctx, id)
	recordOperation("delete_department", start, err)
	return err
}

// ═══════════════════════════════════════════════════════════════════════════
// CREDENTIAL OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════

func (c *DirectoryCollector) CheckToken(ctx context.Context, orgID string, requiredScopes []string) (*directory.TokenInfo, error) {
	start := time.Now()
	info, err := c.next.CheckToken(ctx, orgID, requiredScopes)
	recordOperation("check_token", start, err)
	return info, err
}

func (c *DirectoryCollector) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.next.HealthCheck(ctx)
	recordOperation("health_check", start, err)
	return err
}
