package graphql

import (
	"context"
	"fmt"

	"github.com/devplatform/directory-sync/internal/auth"
	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/prometheus"
	gosync "github.com/devplatform/directory-sync/internal/sync"
	"github.com/graphql-go/graphql"
	"github.com/sirupsen/logrus"
)

// Schema exposes directory snapshots and batch operations over GraphQL.
// Reads need an authenticated caller; mutations need the admin role.
type Schema struct {
	schema    graphql.Schema
	client    prometheus.DirectoryInterface
	snapshots gosync.Snapshots
	importer  gosync.Importer
	config    *config.Config
	logger    *logrus.Logger
}

// NewSchema builds the schema. It fails only on an invalid type graph.
func NewSchema(client prometheus.DirectoryInterface, snapshots gosync.Snapshots, importer gosync.Importer, cfg *config.Config, logger *logrus.Logger) (*Schema, error) {
	s := &Schema{
		client:    client,
		snapshots: snapshots,
		importer:  importer,
		config:    cfg,
		logger:    logger,
	}

	healthType := s.defineHealthType()
	departmentType := s.defineDepartmentType()
	departmentSyncType := s.defineDepartmentSyncResultType()
	userType := s.defineUserType()
	importModeEnum := s.defineImportModeEnum()
	importResultType := s.defineImportResultType()

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"health": &graphql.Field{
				Type:    healthType,
				Resolve: s.resolveHealth,
			},
			"departments": &graphql.Field{
				Type: graphql.NewList(departmentType),
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{
						Type:        graphql.String,
						Description: "Match by id, name, label or alias (optional)",
					},
				},
				Resolve: s.resolveDepartments,
			},
			"emptyDepartments": &graphql.Field{
				Type:        graphql.NewList(departmentType),
				Description: "Departments with no members in their whole subtree",
				Resolve:     s.resolveEmptyDepartments,
			},
			"users": &graphql.Field{
				Type: graphql.NewList(userType),
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{
						Type:        graphql.String,
						Description: "Match by login, id, alias, name or e-mail (optional)",
					},
					"limit": &graphql.ArgumentConfig{
						Type:         graphql.Int,
						DefaultValue: 50,
						Description:  "Maximum number of users returned (default: 50)",
					},
				},
				Resolve: s.resolveUsers,
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"importUsers": &graphql.Field{
				Type: importResultType,
				Args: graphql.FieldConfigArgument{
					"content": &graphql.ArgumentConfig{
						Type:        graphql.NewNonNull(graphql.String),
						Description: "Semicolon separated table with a header line",
					},
					"mode": &graphql.ArgumentConfig{
						Type:         importModeEnum,
						DefaultValue: "create",
						Description:  "CREATE adds identities, UPDATE patches existing ones",
					},
					"dryRun": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
					},
					"acceptWarnings": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
						Description:  "Apply rows with warnings instead of rejecting the batch",
					},
				},
				Resolve: s.resolveImportUsers,
			},
			"syncDepartments": &graphql.Field{
				Type: departmentSyncType,
				Args: graphql.FieldConfigArgument{
					"content": &graphql.ArgumentConfig{
						Type:        graphql.NewNonNull(graphql.String),
						Description: "Department file, one id|path line per department",
					},
					"dryRun": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
					},
				},
				Resolve: s.resolveSyncDepartments,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build GraphQL schema: %w", err)
	}
	s.schema = schema
	return s, nil
}

// GetSchema returns the executable schema
func (s *Schema) GetSchema() graphql.Schema {
	return s.schema
}

// ─── Access checks ──────────────────────────────────────────

// requireUser returns the caller id set by the auth middleware
func (s *Schema) requireUser(ctx context.Context) (string, error) {
	if identity := auth.IdentityFromContext(ctx); identity != nil {
		return identity.User, nil
	}
	return "", fmt.Errorf("unauthorized")
}

// requireAdmin checks the caller holds the configured admin role
func (s *Schema) requireAdmin(ctx context.Context, operation string) (string, error) {
	caller := auth.GetUserFromContext(ctx)
	if err := auth.RequireRole(ctx, s.config.AdminRole); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user":      caller,
			"operation": operation,
		}).Warn("Mutation denied")
		return "", err
	}
	return caller, nil
}
