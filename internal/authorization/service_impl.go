package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	"github.com/smallbiznis/railgate/internal/auditcontext"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUser       = "user"
	ObjectRole       = "role"
	ObjectPermission = "permission"
	ObjectClient     = "client"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionUserCreate     = "user:create"
	ActionUserActivate   = "user:activate"
	ActionUserDeactivate = "user:deactivate"

	ActionRoleCreate = "role:create"
	ActionRoleAssign = "role:assign"
	ActionRoleRevoke = "role:revoke"
	ActionRoleUpdate = "role:update"

	ActionPermissionCreate = "permission:create"
	ActionPermissionGrant  = "permission:grant"
	ActionPermissionRevoke = "permission:revoke"

	ActionClientCreate     = "client:create"
	ActionClientDeactivate = "client:deactivate"
	ActionClientView       = "client:view"

	ActionAuditLogView = "audit_log:view"
)

// Built-in permission names that carry admin API capabilities.
const (
	PermissionRBACAdmin    = "rbac:admin"
	PermissionClientsAdmin = "clients:admin"
	PermissionUsersAdmin   = "users:admin"
	PermissionAuditRead    = "audit:read"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Resolver rbacdomain.Resolver
	Audit    auditdomain.Sink `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	resolver rbacdomain.Resolver
	audit    auditdomain.Sink
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		resolver: p.Resolver,
		audit:    p.Audit,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID snowflake.ID, object string, action string) error {
	if userID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	perms, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return err
	}

	for _, perm := range perms {
		allowed, err := s.enforcer.Enforce(perm, object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.auditDenied(ctx, userID, object, action)
	return ErrForbidden
}

func (s *ServiceImpl) auditDenied(ctx context.Context, userID snowflake.ID, object string, action string) {
	s.log.Info("authorization denied",
		zap.String("user_id", userID.String()),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, auditdomain.Event{
		ActorType:    auditcontext.ActorUser,
		ActorID:      userID.String(),
		Action:       auditdomain.ActionAuthorizationDenied,
		ResourceType: object,
		Outcome:      auditdomain.OutcomeDenied,
		Reason:       "missing_permission",
		Metadata: map[string]any{
			"object": object,
			"action": action,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{PermissionUsersAdmin, ObjectUser, ActionUserCreate},
		{PermissionUsersAdmin, ObjectUser, ActionUserActivate},
		{PermissionUsersAdmin, ObjectUser, ActionUserDeactivate},

		{PermissionRBACAdmin, ObjectRole, ActionRoleCreate},
		{PermissionRBACAdmin, ObjectRole, ActionRoleAssign},
		{PermissionRBACAdmin, ObjectRole, ActionRoleRevoke},
		{PermissionRBACAdmin, ObjectRole, ActionRoleUpdate},
		{PermissionRBACAdmin, ObjectPermission, ActionPermissionCreate},
		{PermissionRBACAdmin, ObjectPermission, ActionPermissionGrant},
		{PermissionRBACAdmin, ObjectPermission, ActionPermissionRevoke},

		{PermissionClientsAdmin, ObjectClient, ActionClientCreate},
		{PermissionClientsAdmin, ObjectClient, ActionClientDeactivate},
		{PermissionClientsAdmin, ObjectClient, ActionClientView},

		{PermissionAuditRead, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
