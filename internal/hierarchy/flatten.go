// Package hierarchy reconciles requested department paths with the remote department tree.
package hierarchy

import (
	"strings"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
)

// nodeKey identifies a node by its own name and the path of its parent
type nodeKey struct {
	name       string
	parentPath string
}

// Flatten expands every path into its ancestor-inclusive prefixes and
// returns the distinct nodes ordered by level, then by first appearance.
func Flatten(paths []string) []models.PendingDepartmentPath {
	seen := make(map[nodeKey]struct{})
	var byLevel [][]models.PendingDepartmentPath

	for _, raw := range paths {
		path := directory.NormalizePath(raw)
		if path == "" {
			continue
		}
		parts := strings.Split(path, models.PathSeparator)
		for i, name := range parts {
			key := nodeKey{name: name, parentPath: strings.Join(parts[:i], models.PathSeparator)}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			for len(byLevel) <= i {
				byLevel = append(byLevel, nil)
			}
			byLevel[i] = append(byLevel[i], models.PendingDepartmentPath{
				Current:    key.name,
				ParentPath: key.parentPath,
				Level:      i + 1,
			})
		}
	}

	var out []models.PendingDepartmentPath
	for _, level := range byLevel {
		out = append(out, level...)
	}
	return out
}

// Levels groups flattened nodes by level, ascending
func Levels(nodes []models.PendingDepartmentPath) [][]models.PendingDepartmentPath {
	var levels [][]models.PendingDepartmentPath
	for _, n := range nodes {
		for len(levels) < n.Level {
			levels = append(levels, nil)
		}
		levels[n.Level-1] = append(levels[n.Level-1], n)
	}
	return levels
}
