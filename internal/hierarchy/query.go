package hierarchy

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
)

// FileEntry is one line of a department file
type FileEntry struct {
	Line int
	ID   string
	Path string
}

// ParseDepartmentFile reads "id|path" lines. The id is informational only;
// blank lines and "#" comments are skipped.
func ParseDepartmentFile(r io.Reader) ([]FileEntry, error) {
	var out []FileEntry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, models.PathSeparator, 2)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected id%spath, got %q", lineNo, models.PathSeparator, line)
		}
		path := directory.NormalizePath(fields[1])
		if path == "" {
			return nil, fmt.Errorf("line %d: empty department path", lineNo)
		}
		out = append(out, FileEntry{Line: lineNo, ID: strings.TrimSpace(fields[0]), Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read department file: %w", err)
	}
	return out, nil
}

// Paths returns the paths of the entries
func Paths(entries []FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

// SubtreeMembers counts the identities of every department including its descendants
func SubtreeMembers(tree *directory.Hierarchy, users []models.DirectoryUser) map[int64]int {
	counts := make(map[int64]int)
	for _, u := range users {
		current := u.DepartmentID
		for steps := 0; steps <= tree.Len()+1; steps++ {
			d, ok := tree.Department(current)
			if !ok || current == models.RootDepartmentID {
				break
			}
			counts[current]++
			current = d.ParentID
		}
	}
	return counts
}

// EmptyDepartments lists departments whose whole subtree has no members
func EmptyDepartments(tree *directory.Hierarchy, users []models.DirectoryUser) []models.DepartmentNode {
	counts := SubtreeMembers(tree, users)
	var out []models.DepartmentNode
	for _, n := range tree.Nodes() {
		if counts[n.ID] == 0 {
			out = append(out, n)
		}
	}
	return out
}

// UnusedDepartments lists departments that are neither listed in a
// department file nor an ancestor of a listed one
func UnusedDepartments(tree *directory.Hierarchy, filePaths []string) []models.DepartmentNode {
	normalized := make([]string, 0, len(filePaths))
	for _, p := range filePaths {
		if p = directory.NormalizePath(p); p != "" {
			normalized = append(normalized, p)
		}
	}

	var out []models.DepartmentNode
	for _, n := range tree.Nodes() {
		used := false
		for _, p := range normalized {
			if p == n.Path || strings.HasPrefix(p, n.Path+models.PathSeparator) {
				used = true
				break
			}
		}
		if !used {
			out = append(out, n)
		}
	}
	return out
}

// Search finds departments by id, name substring, label or alias.
// An e-mail style query is matched by its local part.
func Search(tree *directory.Hierarchy, query string) []models.Department {
	q := strings.ToLower(strings.TrimSpace(query))
	if at := strings.Index(q, "@"); at >= 0 {
		q = q[:at]
	}
	if q == "" {
		return nil
	}

	id, numErr := strconv.ParseInt(q, 10, 64)
	var out []models.Department
	for _, d := range tree.Departments() {
		if d.ID == models.RootDepartmentID {
			continue
		}
		if numErr == nil {
			if d.ID == id {
				out = append(out, d)
			}
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), q) || strings.EqualFold(d.Label, q) || hasAlias(d.Aliases, q) {
			out = append(out, d)
		}
	}
	return out
}

func hasAlias(aliases []string, q string) bool {
	for _, a := range aliases {
		if strings.EqualFold(a, q) {
			return true
		}
	}
	return false
}
