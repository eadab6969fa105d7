package directory

import (
	"sort"
	"strings"
	"time"

	"github.com/devplatform/directory-sync/internal/models"
)

// Hierarchy is a read-only department tree with precomputed paths
type Hierarchy struct {
	departments map[int64]models.Department
	paths       map[int64]string
	byPath      map[string]int64
	FetchedAt   time.Time
}

// NewHierarchy computes the pipe-joined path of every department.
// The root department is excluded from paths; a department whose parent
// is unknown is treated as a top-level one.
func NewHierarchy(departments []models.Department, fetchedAt time.Time) *Hierarchy {
	h := &Hierarchy{
		departments: make(map[int64]models.Department, len(departments)),
		paths:       make(map[int64]string, len(departments)),
		byPath:      make(map[string]int64, len(departments)),
		FetchedAt:   fetchedAt,
	}
	for _, d := range departments {
		h.departments[d.ID] = d
	}

	for id := range h.departments {
		if id == models.RootDepartmentID {
			continue
		}
		path := h.buildPath(id)
		h.paths[id] = path
		if existing, ok := h.byPath[path]; !ok || id < existing {
			h.byPath[path] = id
		}
	}
	return h
}

func (h *Hierarchy) buildPath(id int64) string {
	var names []string
	current := id
	for steps := 0; steps <= len(h.departments); steps++ {
		d, ok := h.departments[current]
		if !ok || current == models.RootDepartmentID {
			break
		}
		names = append(names, strings.TrimSpace(d.Name))
		if d.ParentID <= 0 {
			break
		}
		current = d.ParentID
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, models.PathSeparator)
}

// Len returns the number of departments without the root
func (h *Hierarchy) Len() int {
	return len(h.paths)
}

// Exists reports whether a department id is known
func (h *Hierarchy) Exists(id int64) bool {
	_, ok := h.departments[id]
	return ok
}

// Department returns the raw department
func (h *Hierarchy) Department(id int64) (models.Department, bool) {
	d, ok := h.departments[id]
	return d, ok
}

// PathOf returns the path of a department; the root has an empty path
func (h *Hierarchy) PathOf(id int64) (string, bool) {
	if id == models.RootDepartmentID {
		return "", true
	}
	p, ok := h.paths[id]
	return p, ok
}

// IDByPath resolves a path to a department id
func (h *Hierarchy) IDByPath(path string) (int64, bool) {
	if path == "" {
		return models.RootDepartmentID, true
	}
	id, ok := h.byPath[NormalizePath(path)]
	return id, ok
}

// Depth returns the number of path segments of a department
func (h *Hierarchy) Depth(id int64) int {
	p, ok := h.paths[id]
	if !ok || p == "" {
		return 0
	}
	return strings.Count(p, models.PathSeparator) + 1
}

// Nodes returns all departments except the root, ordered by path
func (h *Hierarchy) Nodes() []models.DepartmentNode {
	nodes := make([]models.DepartmentNode, 0, len(h.paths))
	for id, path := range h.paths {
		nodes = append(nodes, models.DepartmentNode{
			ID:       id,
			ParentID: h.departments[id].ParentID,
			Path:     path,
		})
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Path == nodes[j].Path {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].Path < nodes[j].Path
	})
	return nodes
}

// Departments returns all raw departments including the root, ordered by id
func (h *Hierarchy) Departments() []models.Department {
	out := make([]models.Department, 0, len(h.departments))
	for _, d := range h.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NormalizePath trims every segment of a pipe-delimited path and drops empty ones
func NormalizePath(path string) string {
	parts := strings.Split(path, models.PathSeparator)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, models.PathSeparator)
}
