package graphql

import (
	"fmt"

	"github.com/devplatform/directory-sync/internal/models"
	"github.com/graphql-go/graphql"
)

// defineUserType defines the DirectoryUser GraphQL type
func (s *Schema) defineUserType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "DirectoryUser",
		Fields: graphql.Fields{
			"id":             &graphql.Field{Type: graphql.String},
			"login":          &graphql.Field{Type: graphql.String},
			"firstName":      &graphql.Field{Type: graphql.String},
			"lastName":       &graphql.Field{Type: graphql.String},
			"middleName":     &graphql.Field{Type: graphql.String},
			"email":          &graphql.Field{Type: graphql.String},
			"position":       &graphql.Field{Type: graphql.String},
			"language":       &graphql.Field{Type: graphql.String},
			"departmentId":   &graphql.Field{Type: graphql.Int},
			"departmentPath": &graphql.Field{Type: graphql.String},
			"aliases":        &graphql.Field{Type: graphql.NewList(graphql.String)},
			"isEnabled":      &graphql.Field{Type: graphql.Boolean},
			"isAdmin":        &graphql.Field{Type: graphql.Boolean},
		},
	})
}

// ============================================================================
// USER QUERY RESOLVERS
// ============================================================================

func (s *Schema) resolveUsers(p graphql.ResolveParams) (interface{}, error) {
	if _, err := s.requireUser(p.Context); err != nil {
		return nil, err
	}

	limit, _ := p.Args["limit"].(int)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	snapshot, _, err := s.snapshots.Users(p.Context, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	tree, _, err := s.snapshots.Departments(p.Context, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}

	var users []*models.DirectoryUser
	if query, _ := p.Args["query"].(string); query != "" {
		users = snapshot.Search(query)
	} else {
		all := snapshot.Users()
		users = make([]*models.DirectoryUser, len(all))
		for i := range all {
			users[i] = &all[i]
		}
	}
	if len(users) > limit {
		users = users[:limit]
	}

	out := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		path, _ := tree.PathOf(u.DepartmentID)
		aliases := u.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		out = append(out, map[string]interface{}{
			"id":             u.ID,
			"login":          u.Nickname,
			"firstName":      u.Name.First,
			"lastName":       u.Name.Last,
			"middleName":     u.Name.Middle,
			"email":          u.Email,
			"position":       u.Position,
			"language":       u.Language,
			"departmentId":   u.DepartmentID,
			"departmentPath": path,
			"aliases":        aliases,
			"isEnabled":      u.IsEnabled,
			"isAdmin":        u.IsAdmin,
		})
	}
	return out, nil
}
