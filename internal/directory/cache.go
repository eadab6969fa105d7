package directory

import (
	"context"
	"sync"
	"time"

	"github.com/devplatform/directory-sync/internal/models"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	usersKey       = "users"
	departmentsKey = "departments"
)

// Fetcher loads full listings from the remote directory
type Fetcher interface {
	ListUsers(ctx context.Context) ([]models.DirectoryUser, error)
	ListDepartments(ctx context.Context) ([]models.Department, error)
}

// Cache is a pull-through snapshot cache with a freshness window per entity type.
// It is the only owner of directory snapshots; callers get read-only values.
// A TTL of zero or less disables caching for that entity: every call reloads.
type Cache struct {
	fetcher  Fetcher
	store    *gocache.Cache
	usersTTL time.Duration
	depsTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger

	mu sync.Mutex
	// OnRefresh is called after every remote reload with the entity name
	OnRefresh func(entity string)
}

// NewCache creates a snapshot cache in front of fetcher
func NewCache(fetcher Fetcher, usersTTL, depsTTL time.Duration, logger *logrus.Logger) *Cache {
	return &Cache{
		fetcher:  fetcher,
		store:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		usersTTL: usersTTL,
		depsTTL:  depsTTL,
		now:      time.Now,
		logger:   logger,
	}
}

// Users returns the identity snapshot, reloading it when stale or when force is set
func (c *Cache) Users(ctx context.Context, force bool) (*UserSnapshot, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.usersTTL > 0 {
		if v, ok := c.store.Get(usersKey); ok {
			snap := v.(*UserSnapshot)
			return snap, snap.FetchedAt, nil
		}
	}

	c.logger.WithField("force", force).Info("Loading users from directory API")
	users, err := c.fetcher.ListUsers(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	snap, err := NewUserSnapshot(users, c.now())
	if err != nil {
		return nil, time.Time{}, err
	}
	c.remember(usersKey, snap, c.usersTTL)
	if c.OnRefresh != nil {
		c.OnRefresh(usersKey)
	}

	c.logger.WithField("count", snap.Len()).Info("Users snapshot refreshed")
	return snap, snap.FetchedAt, nil
}

// Departments returns the hierarchy snapshot, reloading it when stale or when force is set
func (c *Cache) Departments(ctx context.Context, force bool) (*Hierarchy, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.depsTTL > 0 {
		if v, ok := c.store.Get(departmentsKey); ok {
			h := v.(*Hierarchy)
			return h, h.FetchedAt, nil
		}
	}

	c.logger.WithField("force", force).Debug("Loading departments from directory API")
	departments, err := c.fetcher.ListDepartments(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	h := NewHierarchy(departments, c.now())
	c.remember(departmentsKey, h, c.depsTTL)
	if c.OnRefresh != nil {
		c.OnRefresh(departmentsKey)
	}
	return h, h.FetchedAt, nil
}

// remember stores a snapshot; ttl <= 0 would mean "never expire" to the store
func (c *Cache) remember(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		c.store.Delete(key)
		return
	}
	c.store.Set(key, value, ttl)
}

// InvalidateUsers drops the identity snapshot
func (c *Cache) InvalidateUsers() {
	c.store.Delete(usersKey)
}

// InvalidateDepartments drops the hierarchy snapshot
func (c *Cache) InvalidateDepartments() {
	c.store.Delete(departmentsKey)
}

// Invalidate drops every snapshot
func (c *Cache) Invalidate() {
	c.store.Flush()
}
