package graphql

import (
	"fmt"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/hierarchy"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/graphql-go/graphql"
	"github.com/sirupsen/logrus"
)

const serviceName = "directory-sync"

// defineHealthType defines the Health GraphQL type
func (s *Schema) defineHealthType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Health",
		Fields: graphql.Fields{
			"status":    &graphql.Field{Type: graphql.String},
			"service":   &graphql.Field{Type: graphql.String},
			"directory": &graphql.Field{Type: graphql.Boolean},
			"timestamp": &graphql.Field{Type: graphql.String},
		},
	})
}

// defineDepartmentType defines the Department GraphQL type
func (s *Schema) defineDepartmentType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Department",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.Int},
			"parentId": &graphql.Field{Type: graphql.Int},
			"name":     &graphql.Field{Type: graphql.String},
			"path":     &graphql.Field{Type: graphql.String},
			"label":    &graphql.Field{Type: graphql.String},
			"members": &graphql.Field{
				Type:        graphql.Int,
				Description: "Identities in this department and all its descendants",
			},
		},
	})
}

// defineDepartmentSyncResultType defines the DepartmentSyncResult GraphQL type
func (s *Schema) defineDepartmentSyncResultType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "DepartmentSyncResult",
		Fields: graphql.Fields{
			"requested": &graphql.Field{Type: graphql.Int},
			"created":   &graphql.Field{Type: graphql.NewList(graphql.String)},
			"errors":    &graphql.Field{Type: graphql.NewList(graphql.String)},
			"dryRun":    &graphql.Field{Type: graphql.Boolean},
		},
	})
}

// ============================================================================
// HEALTH & DEPARTMENT QUERY RESOLVERS
// ============================================================================

func (s *Schema) resolveHealth(p graphql.ResolveParams) (interface{}, error) {
	directoryHealthy := s.client.HealthCheck(p.Context) == nil

	status := "healthy"
	if !directoryHealthy {
		status = "unhealthy"
	}

	return map[string]interface{}{
		"status":    status,
		"service":   serviceName,
		"directory": directoryHealthy,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (s *Schema) resolveDepartments(p graphql.ResolveParams) (interface{}, error) {
	if _, err := s.requireUser(p.Context); err != nil {
		return nil, err
	}

	tree, _, err := s.snapshots.Departments(p.Context, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	users, _, err := s.snapshots.Users(p.Context, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	counts := hierarchy.SubtreeMembers(tree, users.Users())

	query, _ := p.Args["query"].(string)
	var departments []models.Department
	if strings.TrimSpace(query) != "" {
		departments = hierarchy.Search(tree, query)
	} else {
		for _, n := range tree.Nodes() {
			if d, ok := tree.Department(n.ID); ok {
				departments = append(departments, d)
			}
		}
	}

	out := make([]map[string]interface{}, 0, len(departments))
	for _, d := range departments {
		path, _ := tree.PathOf(d.ID)
		out = append(out, map[string]interface{}{
			"id":       d.ID,
			"parentId": d.ParentID,
			"name":     d.Name,
			"path":     path,
			"label":    d.Label,
			"members":  counts[d.ID],
		})
	}
	return out, nil
}

func (s *Schema) resolveEmptyDepartments(p graphql.ResolveParams) (interface{}, error) {
	if _, err := s.requireUser(p.Context); err != nil {
		return nil, err
	}

	tree, _, err := s.snapshots.Departments(p.Context, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	users, _, err := s.snapshots.Users(p.Context, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	empty := hierarchy.EmptyDepartments(tree, users.Users())
	out := make([]map[string]interface{}, 0, len(empty))
	for _, n := range empty {
		d, _ := tree.Department(n.ID)
		out = append(out, map[string]interface{}{
			"id":       n.ID,
			"parentId": n.ParentID,
			"name":     d.Name,
			"path":     n.Path,
			"label":    d.Label,
			"members":  0,
		})
	}
	return out, nil
}

// ============================================================================
// DEPARTMENT MUTATION RESOLVERS
// ============================================================================

func (s *Schema) resolveSyncDepartments(p graphql.ResolveParams) (interface{}, error) {
	userID, err := s.requireAdmin(p.Context, "syncDepartments")
	if err != nil {
		return nil, err
	}

	content := p.Args["content"].(string)
	dryRun, _ := p.Args["dryRun"].(bool)
	dryRun = dryRun || s.config.DryRun

	entries, err := hierarchy.ParseDepartmentFile(strings.NewReader(content))
	if err != nil {
		return nil, err
	}

	reconciler := hierarchy.NewReconciler(s.client, s.snapshots, s.logger)
	reconciler.DryRun = dryRun
	result, err := reconciler.SyncFromPaths(p.Context, hierarchy.Paths(entries))
	if err != nil {
		return nil, err
	}
	if !dryRun {
		s.snapshots.Invalidate()
	}

	errs := []string{}
	if result.Errors != nil {
		for _, e := range result.Errors.Errors {
			errs = append(errs, e.Error())
		}
	}

	s.logger.WithFields(logrus.Fields{
		"user":      userID,
		"requested": len(entries),
		"created":   len(result.Created),
		"failed":    len(errs),
		"dry_run":   dryRun,
	}).Info("Departments synced via GraphQL")

	created := result.Created
	if created == nil {
		created = []string{}
	}
	return map[string]interface{}{
		"requested": len(entries),
		"created":   created,
		"errors":    errs,
		"dryRun":    dryRun,
	}, nil
}
