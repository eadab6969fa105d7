package hierarchy_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/directory/directorytest"
	"github.com/devplatform/directory-sync/internal/hierarchy"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv        *directorytest.Server
	client     *directory.Client
	cache      *directory.Cache
	reconciler *hierarchy.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := directorytest.NewServer()
	t.Cleanup(srv.Close)

	client := directory.NewClient(directory.Options{
		BaseURL:     srv.DirectoryURL(),
		Token:       directorytest.Token,
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, logging.Discard())
	cache := directory.NewCache(client, time.Hour, time.Hour, logging.Discard())

	return &fixture{
		srv:        srv,
		client:     client,
		cache:      cache,
		reconciler: hierarchy.NewReconciler(client, cache, logging.Discard()),
	}
}

// createdPaths rebuilds the path of every POST /departments call in order
func (f *fixture) createdPaths(t *testing.T) []string {
	t.Helper()
	names := map[int64]string{}
	parents := map[int64]int64{}
	for _, d := range f.srv.Departments() {
		names[d.ID] = d.Name
		parents[d.ID] = d.ParentID
	}
	pathOf := func(id int64) string {
		var parts []string
		for id != models.RootDepartmentID && id != 0 {
			parts = append([]string{names[id]}, parts...)
			id = parents[id]
		}
		return strings.Join(parts, models.PathSeparator)
	}

	var out []string
	for _, r := range f.srv.Requests() {
		if r.Method != http.MethodPost || r.Path != "/departments" {
			continue
		}
		name, _ := r.Body["name"].(string)
		parent, _ := r.Body["parentId"].(float64)
		prefix := pathOf(int64(parent))
		if prefix == "" {
			out = append(out, name)
		} else {
			out = append(out, prefix+models.PathSeparator+name)
		}
	}
	return out
}

func TestEnsureCreatesParentsBeforeChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paths := []string{"Acme|Eng", "Acme|Eng|Backend", "Acme|Sales"}

	result, err := f.reconciler.Ensure(ctx, paths)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.ElementsMatch(t, []string{"Acme", "Acme|Eng", "Acme|Eng|Backend", "Acme|Sales"}, result.Created)
	created := f.createdPaths(t)
	require.Len(t, created, 4)
	position := map[string]int{}
	for i, p := range created {
		position[p] = i
	}
	assert.Less(t, position["Acme"], position["Acme|Eng"])
	assert.Less(t, position["Acme"], position["Acme|Sales"])
	assert.Less(t, position["Acme|Eng"], position["Acme|Eng|Backend"])

	for _, p := range []string{"Acme", "Acme|Eng", "Acme|Eng|Backend", "Acme|Sales"} {
		id, ok := result.ID(p)
		require.True(t, ok, p)
		assert.Greater(t, id, models.RootDepartmentID)
	}

	again, err := f.reconciler.Ensure(ctx, paths)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, 0, again.Refreshes)
	assert.Len(t, f.createdPaths(t), 4)
	for _, p := range paths {
		first, _ := result.ID(p)
		second, _ := again.ID(p)
		assert.Equal(t, first, second, p)
	}
}

func TestEnsureRefreshesOncePerLevel(t *testing.T) {
	f := newFixture(t)
	before := f.srv.CountRequests(http.MethodGet, "/departments")

	result, err := f.reconciler.Ensure(context.Background(), []string{"A|B|C", "A|D", "E"})
	require.NoError(t, err)
	assert.Len(t, result.Created, 5)
	assert.Equal(t, 3, result.Refreshes)
	assert.Equal(t, before+4, f.srv.CountRequests(http.MethodGet, "/departments"))
}

func TestEnsureSkipsExistingLevels(t *testing.T) {
	f := newFixture(t)
	acme := f.srv.AddDepartment("Acme", models.RootDepartmentID)
	f.srv.AddDepartment("Eng", acme)

	result, err := f.reconciler.Ensure(context.Background(), []string{" Acme | Eng | Backend "})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme|Eng|Backend"}, result.Created)
	assert.Equal(t, 1, result.Refreshes)
	assert.Equal(t, []string{"Acme|Eng|Backend"}, f.createdPaths(t))
}

func TestEnsureFailedParentSkipsSubtreeOnly(t *testing.T) {
	f := newFixture(t)
	f.srv.Fail(http.MethodPost, "/departments", http.StatusBadRequest, 1)

	result, err := f.reconciler.Ensure(context.Background(), []string{"Broken|Child", "Fine"})
	require.NoError(t, err)
	require.Error(t, result.Err())
	assert.Len(t, result.Errors.Errors, 2)
	assert.Equal(t, []string{"Fine"}, result.Created)
	_, ok := result.ID("Broken|Child")
	assert.False(t, ok)
}

func TestEnsureDryRunCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.reconciler.DryRun = true

	result, err := f.reconciler.Ensure(context.Background(), []string{"Acme|Eng"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Acme|Eng"}, result.Created)
	assert.Equal(t, 0, f.srv.MutationCount())
	id, ok := result.ID("Acme|Eng")
	require.True(t, ok)
	assert.Less(t, id, int64(0))
}

func TestAssignUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ivanov := f.srv.AddUser(models.DirectoryUser{Nickname: "ivanov"})
	petrov := f.srv.AddUser(models.DirectoryUser{Nickname: "petrov"})

	_, err := f.reconciler.Ensure(ctx, []string{"Acme|Eng"})
	require.NoError(t, err)

	results, err := f.reconciler.AssignUsers(ctx, []hierarchy.Assignment{
		{UserID: ivanov.ID, Login: "ivanov", Path: "Acme|Eng", Current: models.RootDepartmentID},
		{UserID: petrov.ID, Login: "petrov", Path: "Acme|Missing", Current: models.RootDepartmentID},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Changed)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	got, ok := f.srv.User(ivanov.ID)
	require.True(t, ok)
	assert.Equal(t, results[0].DepartmentID, got.DepartmentID)
	untouched, _ := f.srv.User(petrov.ID)
	assert.Equal(t, models.RootDepartmentID, untouched.DepartmentID)
}

func TestDeleteAllMovesMembersThenDeletesDeepestFirst(t *testing.T) {
	f := newFixture(t)
	acme := f.srv.AddDepartment("Acme", models.RootDepartmentID)
	eng := f.srv.AddDepartment("Eng", acme)
	f.srv.AddDepartment("Backend", eng)
	f.srv.AddUser(models.DirectoryUser{Nickname: "ivanov", DepartmentID: eng})

	deleted, err := f.reconciler.DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	require.Len(t, f.srv.Departments(), 1)
	assert.Equal(t, models.RootDepartmentID, f.srv.Departments()[0].ID)

	u, _ := f.srv.UserByNickname("ivanov")
	assert.Equal(t, models.RootDepartmentID, u.DepartmentID)
}
