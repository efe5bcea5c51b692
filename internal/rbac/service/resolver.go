package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/cache"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/internal/observability/metrics"
	"github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultPermissionCacheTTL = 5 * time.Minute

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9:._-]{0,63}$`)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    domain.Repository
	Users   authdomain.Repository
	Audit   auditdomain.Sink `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Resolver struct {
	log          *zap.Logger
	clock        clock.Clock
	genID        *snowflake.Node
	repo         domain.Repository
	users        authdomain.Repository
	audit        auditdomain.Sink
	metrics      *metrics.Metrics
	cache        cache.Cache[snowflake.ID, []string]
	ttl          time.Duration
	storeTimeout time.Duration

	// generation advances on every eviction; a load that started under an
	// older generation must not populate the cache.
	generation atomic.Uint64
}

func NewResolver(p Params) *Resolver {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Config.OAuth.PermissionCacheTTL
	if ttl <= 0 {
		ttl = defaultPermissionCacheTTL
	}
	return &Resolver{
		log:          p.Log.Named("rbac.resolver"),
		clock:        clk,
		genID:        p.GenID,
		repo:         p.Repo,
		users:        p.Users,
		audit:        p.Audit,
		metrics:      p.Metrics,
		cache:        cache.NewTTLCache[snowflake.ID, []string](cache.WithNow(clk.Now)),
		ttl:          ttl,
		storeTimeout: p.Config.StoreTimeout,
	}
}

func (r *Resolver) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}

// EffectivePermissions checks the user's active flag against the store on
// every call; only the permission set itself is cached.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID snowflake.ID) ([]string, error) {
	ctx, cancel := r.storeCtx(ctx)
	defer cancel()

	active, err := r.users.IsActive(ctx, userID)
	if errors.Is(err, authdomain.ErrUserNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !active {
		return []string{}, nil
	}

	if perms, ok := r.cache.Get(userID); ok {
		r.metrics.RecordPermissionCache(ctx, true)
		return append([]string(nil), perms...), nil
	}
	r.metrics.RecordPermissionCache(ctx, false)

	gen := r.generation.Load()
	perms, err := r.repo.PermissionNamesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	if r.generation.Load() == gen {
		r.cache.Set(userID, append([]string(nil), perms...), r.ttl)
		// Invalidate bumps the generation before deleting, so a bump seen
		// here may have missed the entry just stored.
		if r.generation.Load() != gen {
			r.cache.Delete(userID)
		}
	}
	return perms, nil
}

func (r *Resolver) HasPermission(ctx context.Context, userID snowflake.ID, permission string) (bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p == permission {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) Invalidate(userID snowflake.ID) {
	r.generation.Add(1)
	r.cache.Delete(userID)
}

func (r *Resolver) purge() {
	r.generation.Add(1)
	r.cache.Purge()
}

func (r *Resolver) AssignRole(ctx context.Context, userID snowflake.ID, roleName string) error {
	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if _, err := r.users.FindByID(storeCtx, userID); err != nil {
		return err
	}
	if err := r.repo.AssignRole(storeCtx, userID, role.ID, r.clock.Now()); err != nil {
		return err
	}
	r.Invalidate(userID)
	r.record(ctx, auditdomain.ActionRoleAssigned, "user", userID.String(), map[string]any{"role": role.Name})
	return nil
}

func (r *Resolver) RevokeRole(ctx context.Context, userID snowflake.ID, roleName string) error {
	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.RevokeRole(storeCtx, userID, role.ID); err != nil {
		return err
	}
	r.Invalidate(userID)
	r.record(ctx, auditdomain.ActionRoleRevoked, "user", userID.String(), map[string]any{"role": role.Name})
	return nil
}

func (r *Resolver) GrantPermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := r.findPair(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.GrantPermission(storeCtx, role.ID, perm.ID, r.clock.Now()); err != nil {
		return err
	}
	r.purge()
	r.record(ctx, auditdomain.ActionPermissionGranted, "role", role.Name, map[string]any{"permission": perm.Name})
	return nil
}

func (r *Resolver) RevokePermission(ctx context.Context, roleName, permissionName string) error {
	role, perm, err := r.findPair(ctx, roleName, permissionName)
	if err != nil {
		return err
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.RevokePermission(storeCtx, role.ID, perm.ID); err != nil {
		return err
	}
	r.purge()
	r.record(ctx, auditdomain.ActionPermissionRevoked, "role", role.Name, map[string]any{"permission": perm.Name})
	return nil
}

func (r *Resolver) SetRoleActive(ctx context.Context, roleName string, active bool) error {
	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return err
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.SetRoleActive(storeCtx, role.ID, active, r.clock.Now()); err != nil {
		return err
	}
	r.purge()
	r.record(ctx, auditdomain.ActionRoleUpdated, "role", role.Name, map[string]any{"active": active})
	return nil
}

func (r *Resolver) CreateRole(ctx context.Context, name, description string) (*domain.Role, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	role := &domain.Role{
		ID:          r.genID.Generate(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.CreateRole(storeCtx, role); err != nil {
		return nil, err
	}
	r.record(ctx, auditdomain.ActionRoleCreated, "role", role.Name, nil)
	return role, nil
}

func (r *Resolver) CreatePermission(ctx context.Context, name, description string) (*domain.Permission, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	perm := &domain.Permission{
		ID:          r.genID.Generate(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   r.clock.Now(),
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.repo.CreatePermission(storeCtx, perm); err != nil {
		return nil, err
	}
	r.record(ctx, auditdomain.ActionPermissionCreated, "permission", perm.Name, nil)
	return perm, nil
}

func (r *Resolver) ListRoles(ctx context.Context) ([]domain.Role, error) {
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.repo.ListRoles(storeCtx)
}

func (r *Resolver) RolesForUser(ctx context.Context, userID snowflake.ID) ([]domain.Role, error) {
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.repo.RolesForUser(storeCtx, userID)
}

func (r *Resolver) findRole(ctx context.Context, name string) (*domain.Role, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, domain.ErrRoleNotFound
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	return r.repo.FindRoleByName(storeCtx, name)
}

func (r *Resolver) findPair(ctx context.Context, roleName, permissionName string) (*domain.Role, *domain.Permission, error) {
	role, err := r.findRole(ctx, roleName)
	if err != nil {
		return nil, nil, err
	}
	name, err := normalizeName(permissionName)
	if err != nil {
		return nil, nil, domain.ErrPermissionNotFound
	}
	storeCtx, cancel := r.storeCtx(ctx)
	defer cancel()
	perm, err := r.repo.FindPermissionByName(storeCtx, name)
	if err != nil {
		return nil, nil, err
	}
	return role, perm, nil
}

func (r *Resolver) record(ctx context.Context, action, resourceType, resourceID string, metadata map[string]any) {
	if r.audit == nil {
		return
	}
	r.audit.Record(ctx, auditdomain.Event{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      auditdomain.OutcomeSuccess,
		Metadata:     metadata,
	})
}

func normalizeName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !namePattern.MatchString(name) {
		return "", domain.ErrInvalidName
	}
	return name, nil
}
