package directory_test

import (
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
)

func sampleHierarchy() *directory.Hierarchy {
	return directory.NewHierarchy([]models.Department{
		{ID: 1, Name: "All"},
		{ID: 10, Name: "Acme", ParentID: 1},
		{ID: 11, Name: "Eng ", ParentID: 10},
		{ID: 12, Name: "Backend", ParentID: 11},
		{ID: 13, Name: "Sales", ParentID: 10},
	}, time.Now())
}

func TestHierarchyPaths(t *testing.T) {
	h := sampleHierarchy()

	path, ok := h.PathOf(12)
	assert.True(t, ok)
	assert.Equal(t, "Acme|Eng|Backend", path)

	path, ok = h.PathOf(models.RootDepartmentID)
	assert.True(t, ok)
	assert.Equal(t, "", path)

	_, ok = h.PathOf(99)
	assert.False(t, ok)

	assert.Equal(t, 4, h.Len())
	assert.Equal(t, 3, h.Depth(12))
}

func TestHierarchyIDByPath(t *testing.T) {
	h := sampleHierarchy()

	id, ok := h.IDByPath(" Acme | Eng ")
	assert.True(t, ok)
	assert.Equal(t, int64(11), id)

	id, ok = h.IDByPath("")
	assert.True(t, ok)
	assert.Equal(t, models.RootDepartmentID, id)

	_, ok = h.IDByPath("Acme|Marketing")
	assert.False(t, ok)
}

func TestHierarchyNodesOrderedByPath(t *testing.T) {
	nodes := sampleHierarchy().Nodes()

	var paths []string
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}
	assert.Equal(t, []string{"Acme", "Acme|Eng", "Acme|Eng|Backend", "Acme|Sales"}, paths)
}

func TestHierarchySurvivesCycles(t *testing.T) {
	h := directory.NewHierarchy([]models.Department{
		{ID: 20, Name: "A", ParentID: 21},
		{ID: 21, Name: "B", ParentID: 20},
	}, time.Now())

	assert.Equal(t, 2, h.Len())
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "Acme|Eng", directory.NormalizePath(" Acme || Eng |"))
	assert.Equal(t, "", directory.NormalizePath(" | "))
}
