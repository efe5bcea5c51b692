package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	authrepo "github.com/smallbiznis/railgate/internal/auth/repository"
	"github.com/smallbiznis/railgate/internal/cache"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/rbac/domain"
	"github.com/smallbiznis/railgate/internal/rbac/repository"
	"github.com/smallbiznis/railgate/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memorySink struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (m *memorySink) Record(_ context.Context, e auditdomain.Event) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

type fixture struct {
	resolver *Resolver
	users    authdomain.Repository
	conn     *gorm.DB
	clock    *clock.FakeClock
	node     *snowflake.Node
	sink     *memorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&domain.Role{},
		&domain.Permission{},
		&domain.UserRole{},
		&domain.RolePermission{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	users, _ := authrepo.New(conn)
	clk := clock.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	sink := &memorySink{}

	resolver := NewResolver(Params{
		Log: zap.NewNop(),
		Config: config.Config{
			StoreTimeout: time.Second,
			OAuth:        config.OAuthConfig{PermissionCacheTTL: 5 * time.Minute},
		},
		Clock: clk,
		GenID: node,
		Repo:  repository.New(conn),
		Users: users,
		Audit: sink,
	})
	return &fixture{resolver: resolver, users: users, conn: conn, clock: clk, node: node, sink: sink}
}

func (f *fixture) createUser(t *testing.T, username string) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	user := &authdomain.User{
		ID:           f.node.Generate(),
		Username:     username,
		PasswordHash: "x",
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user.ID
}

func (f *fixture) seedEditor(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.resolver.CreateRole(ctx, "editor", "can edit")
	require.NoError(t, err)
	_, err = f.resolver.CreatePermission(ctx, "read", "")
	require.NoError(t, err)
	_, err = f.resolver.CreatePermission(ctx, "write", "")
	require.NoError(t, err)
	require.NoError(t, f.resolver.GrantPermission(ctx, "editor", "read"))
	require.NoError(t, f.resolver.GrantPermission(ctx, "editor", "write"))
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	userID := f.createUser(t, "alice")

	_, err := f.resolver.CreateRole(ctx, "auditor", "")
	require.NoError(t, err)
	_, err = f.resolver.CreatePermission(ctx, "audit:read", "")
	require.NoError(t, err)
	require.NoError(t, f.resolver.GrantPermission(ctx, "auditor", "audit:read"))
	require.NoError(t, f.resolver.GrantPermission(ctx, "auditor", "read"))

	require.NoError(t, f.resolver.AssignRole(ctx, userID, "editor"))
	require.NoError(t, f.resolver.AssignRole(ctx, userID, "auditor"))
	require.NoError(t, f.resolver.AssignRole(ctx, userID, "auditor"))

	perms, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit:read", "read", "write"}, perms)

	ok, err := f.resolver.HasPermission(ctx, userID, "write")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevokeRoleTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	userID := f.createUser(t, "bob")

	require.NoError(t, f.resolver.AssignRole(ctx, userID, "editor"))
	perms, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	require.Contains(t, perms, "write")

	require.NoError(t, f.resolver.RevokeRole(ctx, userID, "editor"))

	perms, err = f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestPermissionChangesPurgeAllUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	require.NoError(t, f.resolver.AssignRole(ctx, alice, "editor"))
	require.NoError(t, f.resolver.AssignRole(ctx, bob, "editor"))

	for _, id := range []snowflake.ID{alice, bob} {
		perms, err := f.resolver.EffectivePermissions(ctx, id)
		require.NoError(t, err)
		require.Contains(t, perms, "write")
	}

	require.NoError(t, f.resolver.RevokePermission(ctx, "editor", "write"))
	for _, id := range []snowflake.ID{alice, bob} {
		perms, err := f.resolver.EffectivePermissions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"read"}, perms)
	}

	require.NoError(t, f.resolver.SetRoleActive(ctx, "editor", false))
	perms, err := f.resolver.EffectivePermissions(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestInactiveUserHasNoPermissionsDespiteCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	userID := f.createUser(t, "carol")
	require.NoError(t, f.resolver.AssignRole(ctx, userID, "editor"))

	perms, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, perms)

	// deactivate directly in the store, bypassing the invalidation hook
	require.NoError(t, f.users.SetActive(ctx, userID, false, f.clock.Now()))

	perms, err = f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestUnknownUserHasNoPermissions(t *testing.T) {
	f := newFixture(t)
	perms, err := f.resolver.EffectivePermissions(context.Background(), snowflake.ID(12345))
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	userID := f.createUser(t, "dave")
	require.NoError(t, f.resolver.AssignRole(ctx, userID, "editor"))

	_, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)

	// an out-of-band change is picked up once the entry expires
	role, err := repository.New(f.conn).FindRoleByName(ctx, "editor")
	require.NoError(t, err)
	require.NoError(t, repository.New(f.conn).RevokeRole(ctx, userID, role.ID))

	perms, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, perms)

	f.clock.Advance(5*time.Minute + time.Second)
	perms, err = f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.seedEditor(t)
	userID := f.createUser(t, "erin")
	require.NoError(t, f.resolver.AssignRole(context.Background(), userID, "editor"))

	actions := map[string]bool{}
	for _, e := range f.sink.events {
		actions[e.Action] = true
	}
	assert.True(t, actions[auditdomain.ActionRoleCreated])
	assert.True(t, actions[auditdomain.ActionPermissionGranted])
	assert.True(t, actions[auditdomain.ActionRoleAssigned])
}

func TestUnknownRoleAndInvalidNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.createUser(t, "frank")

	assert.ErrorIs(t, f.resolver.AssignRole(ctx, userID, "ghost"), domain.ErrRoleNotFound)

	_, err := f.resolver.CreateRole(ctx, "has spaces", "")
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = f.resolver.CreateRole(ctx, "ops", "")
	require.NoError(t, err)
	_, err = f.resolver.CreateRole(ctx, "ops", "")
	assert.ErrorIs(t, err, domain.ErrRoleExists)
}

// racingCache runs beforeSet ahead of the first Set, standing in for an
// invalidation that lands between the generation check and the store.
type racingCache struct {
	cache.Cache[snowflake.ID, []string]
	once      sync.Once
	beforeSet func()
}

func (c *racingCache) Set(key snowflake.ID, value []string, ttl time.Duration) {
	c.once.Do(c.beforeSet)
	c.Cache.Set(key, value, ttl)
}

func TestInvalidationDuringCacheFillIsNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedEditor(t)
	userID := f.createUser(t, "grace")
	require.NoError(t, f.resolver.AssignRole(ctx, userID, "editor"))

	repo := repository.New(f.conn)
	f.resolver.cache = &racingCache{
		Cache: f.resolver.cache,
		beforeSet: func() {
			role, err := repo.FindRoleByName(ctx, "editor")
			require.NoError(t, err)
			require.NoError(t, repo.RevokeRole(ctx, userID, role.ID))
			f.resolver.Invalidate(userID)
		},
	}

	perms, err := f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, perms, "write")

	perms, err = f.resolver.EffectivePermissions(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}
