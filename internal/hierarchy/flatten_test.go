package hierarchy

import (
	"strings"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	nodes := Flatten([]string{"Acme|Eng", "Acme|Eng|Backend", "Acme|Sales", " acme | Eng ", ""})

	var got []string
	for _, n := range nodes {
		got = append(got, n.Path())
	}
	assert.Equal(t, []string{"Acme", "acme", "Acme|Eng", "Acme|Sales", "acme|Eng", "Acme|Eng|Backend"}, got)

	assert.Equal(t, models.PendingDepartmentPath{Current: "Backend", ParentPath: "Acme|Eng", Level: 3}, nodes[5])
	assert.Equal(t, 1, nodes[0].Level)
	assert.Equal(t, "", nodes[0].ParentPath)
}

func TestFlattenSpecExample(t *testing.T) {
	nodes := Flatten([]string{"Acme|Eng", "Acme|Eng|Backend", "Acme|Sales"})
	require.Len(t, nodes, 4)

	levels := Levels(nodes)
	require.Len(t, levels, 3)
	assert.Len(t, levels[0], 1)
	assert.Len(t, levels[1], 2)
	assert.Len(t, levels[2], 1)
}

func TestFlattenSameNameUnderDifferentParents(t *testing.T) {
	nodes := Flatten([]string{"A|Team", "B|Team"})
	assert.Len(t, nodes, 4)
}

func testTree() *directory.Hierarchy {
	return directory.NewHierarchy([]models.Department{
		{ID: 1, Name: "All"},
		{ID: 10, Name: "Acme", ParentID: 1, Label: "acme", Aliases: []string{"company"}},
		{ID: 11, Name: "Eng", ParentID: 10},
		{ID: 12, Name: "Backend", ParentID: 11},
		{ID: 13, Name: "Sales", ParentID: 10, Label: "sales"},
		{ID: 20, Name: "Legacy", ParentID: 1},
	}, time.Now())
}

func TestEmptyDepartmentsCountsSubtree(t *testing.T) {
	users := []models.DirectoryUser{
		{ID: "1", DepartmentID: 12},
		{ID: "2", DepartmentID: 1},
	}
	counts := SubtreeMembers(testTree(), users)
	assert.Equal(t, 1, counts[10])
	assert.Equal(t, 1, counts[11])
	assert.Equal(t, 0, counts[13])

	var empty []string
	for _, n := range EmptyDepartments(testTree(), users) {
		empty = append(empty, n.Path)
	}
	assert.Equal(t, []string{"Acme|Sales", "Legacy"}, empty)
}

func TestUnusedDepartments(t *testing.T) {
	var unused []string
	for _, n := range UnusedDepartments(testTree(), []string{"Acme|Eng|Backend"}) {
		unused = append(unused, n.Path)
	}
	assert.Equal(t, []string{"Acme|Sales", "Legacy"}, unused)
}

func TestSearch(t *testing.T) {
	tree := testTree()
	names := func(deps []models.Department) []string {
		var out []string
		for _, d := range deps {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"Eng"}, names(Search(tree, "11")))
	assert.Equal(t, []string{"Backend"}, names(Search(tree, "END")))
	assert.Equal(t, []string{"Sales"}, names(Search(tree, "sales@example.org")))
	assert.Equal(t, []string{"Acme"}, names(Search(tree, "company")))
	assert.Empty(t, Search(tree, "1"))
	assert.Empty(t, Search(tree, " "))
}

func TestParseDepartmentFile(t *testing.T) {
	input := "\ufeff15|Acme|Eng\n# comment\n\n|Acme | Sales |\n"
	entries, err := ParseDepartmentFile(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, FileEntry{Line: 1, ID: "15", Path: "Acme|Eng"}, entries[0])
	assert.Equal(t, FileEntry{Line: 4, ID: "", Path: "Acme|Sales"}, entries[1])
	assert.Equal(t, []string{"Acme|Eng", "Acme|Sales"}, Paths(entries))

	_, err = ParseDepartmentFile(strings.NewReader("Acme\n"))
	assert.Error(t, err)
	_, err = ParseDepartmentFile(strings.NewReader("3| | \n"))
	assert.Error(t, err)
}
