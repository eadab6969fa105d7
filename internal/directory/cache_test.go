package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	users       []models.DirectoryUser
	departments []models.Department
	userCalls   int
	depCalls    int
	err         error
}

func (f *countingFetcher) ListUsers(ctx context.Context) ([]models.DirectoryUser, error) {
	f.userCalls++
	return f.users, f.err
}

func (f *countingFetcher) ListDepartments(ctx context.Context) ([]models.Department, error) {
	f.depCalls++
	return f.departments, f.err
}

func TestCacheServesFreshSnapshot(t *testing.T) {
	fetcher := &countingFetcher{
		users: []models.DirectoryUser{{ID: "1130000000000100", Nickname: "ivanov"}},
	}
	cache := directory.NewCache(fetcher, time.Minute, time.Minute, logging.Discard())
	ctx := context.Background()

	first, fetchedAt, err := cache.Users(ctx, false)
	require.NoError(t, err)
	second, again, err := cache.Users(ctx, false)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, fetchedAt, again)
	assert.Equal(t, 1, fetcher.userCalls)
}

func TestCacheForceRefresh(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := directory.NewCache(fetcher, time.Minute, time.Minute, logging.Discard())
	var refreshed []string
	cache.OnRefresh = func(entity string) { refreshed = append(refreshed, entity) }
	ctx := context.Background()

	_, _, err := cache.Departments(ctx, false)
	require.NoError(t, err)
	_, _, err = cache.Departments(ctx, true)
	require.NoError(t, err)
	_, _, err = cache.Users(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.depCalls)
	assert.Equal(t, []string{"departments", "departments", "users"}, refreshed)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := directory.NewCache(fetcher, 20*time.Millisecond, time.Minute, logging.Discard())
	ctx := context.Background()

	_, _, err := cache.Users(ctx, false)
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	_, _, err = cache.Users(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, fetcher.userCalls)
}

func TestCacheInvalidate(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := directory.NewCache(fetcher, time.Minute, time.Minute, logging.Discard())
	ctx := context.Background()

	_, _, _ = cache.Users(ctx, false)
	_, _, _ = cache.Departments(ctx, false)
	cache.Invalidate()
	_, _, _ = cache.Users(ctx, false)
	_, _, _ = cache.Departments(ctx, false)

	assert.Equal(t, 2, fetcher.userCalls)
	assert.Equal(t, 2, fetcher.depCalls)
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("boom")}
	cache := directory.NewCache(fetcher, time.Minute, time.Minute, logging.Discard())
	ctx := context.Background()

	_, _, err := cache.Users(ctx, false)
	require.Error(t, err)

	fetcher.err = nil
	snap, _, err := cache.Users(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
	assert.Equal(t, 2, fetcher.userCalls)
}

func TestCacheZeroTTLAlwaysReloads(t *testing.T) {
	fetcher := &countingFetcher{
		users: []models.DirectoryUser{{ID: "1130000000000100", Nickname: "ivanov"}},
	}
	cache := directory.NewCache(fetcher, 0, -time.Second, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := cache.Users(ctx, false)
		require.NoError(t, err)
		_, _, err = cache.Departments(ctx, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fetcher.userCalls)
	assert.Equal(t, 3, fetcher.depCalls)
}
