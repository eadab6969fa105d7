package graphql

import (
	"fmt"
	"strings"

	"github.com/devplatform/directory-sync/internal/models"
	gosync "github.com/devplatform/directory-sync/internal/sync"
	"github.com/graphql-go/graphql"
	"github.com/sirupsen/logrus"
)

// defineImportModeEnum defines the ImportMode GraphQL enum
func (s *Schema) defineImportModeEnum() *graphql.Enum {
	return graphql.NewEnum(graphql.EnumConfig{
		Name: "ImportMode",
		Values: graphql.EnumValueConfigMap{
			"CREATE": &graphql.EnumValueConfig{Value: string(models.ModeCreate)},
			"UPDATE": &graphql.EnumValueConfig{Value: string(models.ModeUpdate)},
		},
	})
}

// defineImportResultType defines the ImportResult GraphQL type
func (s *Schema) defineImportResultType() *graphql.Object {
	outcomeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RowOutcome",
		Fields: graphql.Fields{
			"line":     &graphql.Field{Type: graphql.Int},
			"login":    &graphql.Field{Type: graphql.String},
			"kind":     &graphql.Field{Type: graphql.String},
			"reason":   &graphql.Field{Type: graphql.String},
			"userId":   &graphql.Field{Type: graphql.String},
			"warnings": &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	conflictType := graphql.NewObject(graphql.ObjectConfig{
		Name: "UniquenessConflict",
		Fields: graphql.Fields{
			"line":  &graphql.Field{Type: graphql.Int},
			"login": &graphql.Field{Type: graphql.String},
			"field": &graphql.Field{Type: graphql.String},
			"value": &graphql.Field{Type: graphql.String},
			"with":  &graphql.Field{Type: graphql.String},
		},
	})

	return graphql.NewObject(graphql.ObjectConfig{
		Name: "ImportResult",
		Fields: graphql.Fields{
			"status":             &graphql.Field{Type: graphql.String},
			"mode":               &graphql.Field{Type: graphql.String},
			"dryRun":             &graphql.Field{Type: graphql.Boolean},
			"error":              &graphql.Field{Type: graphql.String},
			"rows":               &graphql.Field{Type: graphql.Int},
			"created":            &graphql.Field{Type: graphql.Int},
			"updated":            &graphql.Field{Type: graphql.Int},
			"skipped":            &graphql.Field{Type: graphql.Int},
			"failed":             &graphql.Field{Type: graphql.Int},
			"rejected":           &graphql.Field{Type: graphql.NewList(graphql.String)},
			"warnings":           &graphql.Field{Type: graphql.NewList(graphql.String)},
			"conflicts":          &graphql.Field{Type: graphql.NewList(conflictType)},
			"departmentsCreated": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"outcomes":           &graphql.Field{Type: graphql.NewList(outcomeType)},
		},
	})
}

// ============================================================================
// IMPORT MUTATION RESOLVERS
// ============================================================================

func (s *Schema) resolveImportUsers(p graphql.ResolveParams) (interface{}, error) {
	userID, err := s.requireAdmin(p.Context, "importUsers")
	if err != nil {
		return nil, err
	}

	content := p.Args["content"].(string)
	mode := models.ModeCreate
	if m, ok := p.Args["mode"].(string); ok && m != "" {
		mode = models.Mode(m)
	}
	dryRun, _ := p.Args["dryRun"].(bool)
	acceptWarnings, _ := p.Args["acceptWarnings"].(bool)

	opts := gosync.ImportOptions{Mode: mode, DryRun: dryRun || s.config.DryRun}
	if acceptWarnings {
		opts.Confirmer = gosync.AcceptAll
	}

	result, importErr := s.importer.Import(p.Context, strings.NewReader(content), opts)
	report := gosync.NewFileReport("graphql", mode, result, importErr)

	log := s.logger.WithFields(logrus.Fields{
		"user":    userID,
		"mode":    mode,
		"status":  report.Status,
		"dry_run": opts.DryRun,
	})
	if report.Status == gosync.StatusFailed {
		log.WithError(importErr).Error("Import via GraphQL failed")
		return nil, fmt.Errorf("import failed: %w", importErr)
	}
	log.Info("Import via GraphQL finished")

	out := map[string]interface{}{
		"status":             report.Status,
		"mode":               string(mode),
		"dryRun":             opts.DryRun,
		"error":              report.Error,
		"rows":               0,
		"created":            0,
		"updated":            0,
		"skipped":            0,
		"failed":             0,
		"rejected":           nonNil(report.Rejected),
		"warnings":           []string{},
		"conflicts":          []map[string]interface{}{},
		"departmentsCreated": []string{},
		"outcomes":           []map[string]interface{}{},
	}
	if result == nil {
		return out, nil
	}

	out["rows"] = result.Rows
	var warnings []string
	for _, c := range result.Suspicious {
		for _, w := range c.Warnings {
			warnings = append(warnings, fmt.Sprintf("line %d (%s): %s", c.Line, c.Login, w))
		}
	}
	out["warnings"] = nonNil(warnings)

	conflicts := make([]map[string]interface{}, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicts = append(conflicts, map[string]interface{}{
			"line":  c.Line,
			"login": c.Login,
			"field": c.Field,
			"value": c.Value,
			"with":  c.With,
		})
	}
	out["conflicts"] = conflicts

	if result.Report != nil {
		out["created"] = result.Report.Count(models.OutcomeCreated)
		out["updated"] = result.Report.Count(models.OutcomeUpdated)
		out["skipped"] = result.Report.Count(models.OutcomeSkipped)
		out["failed"] = result.Report.Count(models.OutcomeFailed)
		out["departmentsCreated"] = nonNil(result.Report.DepartmentsCreated)

		outcomes := make([]map[string]interface{}, 0, len(result.Report.Outcomes))
		for _, o := range result.Report.Outcomes {
			outcomes = append(outcomes, map[string]interface{}{
				"line":     o.Line,
				"login":    o.Login,
				"kind":     string(o.Kind),
				"reason":   o.Reason,
				"userId":   o.UserID,
				"warnings": nonNil(o.Warnings),
			})
		}
		out["outcomes"] = outcomes
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
