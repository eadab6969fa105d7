package prometheus

import (
	"context"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
)

// DirectoryInterface defines all methods from directory.Client that are used by the sync layers.
// This allows us to wrap the Client with metrics collection
type DirectoryInterface interface {
	// ═══════════════════════════════════════════════════════════════════════════
	// USER OPERATIONS
	// ═══════════════════════════════════════════════════════════════════════════

	// ListUsers lists every human identity of the organization
	ListUsers(ctx context.Context) ([]models.DirectoryUser, error)

	// GetUser gets one identity by id
	GetUser(ctx context.Context, id string) (*models.DirectoryUser, error)

	// CreateUser creates an identity
	CreateUser(ctx context.Context, req *directory.CreateUserRequest) (*models.DirectoryUser, error)

	// PatchUser applies a partial update to an identity
	PatchUser(ctx context.Context, id string, patch *directory.UserPatch) (*models.DirectoryUser, error)

	// AddAlias adds a mail alias to an identity
	AddAlias(ctx context.Context, userID, alias string) error

	// RemoveAlias removes a mail alias from an identity
	RemoveAlias(ctx context.Context, userID, alias string) error

	// ═══════════════════════════════════════════════════════════════════════════
	// DEPARTMENT OPERATIONS
	// ═══════════════════════════════════════════════════════════════════════════

	// ListDepartments lists every department of the organization
	ListDepartments(ctx context.Context) ([]models.Department, error)

	// CreateDepartment creates a department under parentID
	CreateDepartment(ctx context.Context, name string, parentID int64) (*models.Department, error)

	// DeleteDepartment deletes an empty department
	DeleteDepartment(ctx context.Context, id int64) error

	// ═══════════════════════════════════════════════════════════════════════════
	// CREDENTIAL OPERATIONS
	// ═══════════════════════════════════════════════════════════════════════════

	// CheckToken verifies organization access and scopes of the credential
	CheckToken(ctx context.Context, orgID string, requiredScopes []string) (*directory.TokenInfo, error)

	// HealthCheck checks that the directory API answers
	HealthCheck(ctx context.Context) error
}

var _ DirectoryInterface = (*directory.Client)(nil)
