package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/rbac/domain"
	"github.com/smallbiznis/railgate/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) CreateRole(ctx context.Context, role *domain.Role) error {
	err := r.db.WithContext(ctx).Create(role).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrRoleExists
	}
	return err
}

func (r *repo) CreatePermission(ctx context.Context, perm *domain.Permission) error {
	err := r.db.WithContext(ctx).Create(perm).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrPermissionExists
	}
	return err
}

func (r *repo) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *repo) FindPermissionByName(ctx context.Context, name string) (*domain.Permission, error) {
	var perm domain.Permission
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&perm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPermissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

func (r *repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.WithContext(ctx).Order("name ASC").Find(&roles).Error
	return roles, err
}

func (r *repo) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.WithContext(ctx).Order("name ASC").Find(&perms).Error
	return perms, err
}

func (r *repo) SetRoleActive(ctx context.Context, roleID snowflake.ID, active bool, now time.Time) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.Role{}).
		Where("id = ?", roleID).
		Updates(map[string]any{"active": active, "updated_at": now})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrRoleNotFound
	}
	return nil
}

func (r *repo) AssignRole(ctx context.Context, userID, roleID snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.UserRole{UserID: userID, RoleID: roleID, CreatedAt: now}).Error
}

func (r *repo) RevokeRole(ctx context.Context, userID, roleID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Delete(&domain.UserRole{}).Error
}

func (r *repo) GrantPermission(ctx context.Context, roleID, permissionID snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.RolePermission{RoleID: roleID, PermissionID: permissionID, CreatedAt: now}).Error
}

func (r *repo) RevokePermission(ctx context.Context, roleID, permissionID snowflake.ID) error {
	return r.db.WithContext(ctx).
		Where("role_id = ? AND permission_id = ?", roleID, permissionID).
		Delete(&domain.RolePermission{}).Error
}

func (r *repo) RolesForUser(ctx context.Context, userID snowflake.ID) ([]domain.Role, error) {
	var roles []domain.Role
	err := r.db.WithContext(ctx).
		Table("roles").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name ASC").
		Find(&roles).Error
	return roles, err
}

func (r *repo) PermissionNamesForUser(ctx context.Context, userID snowflake.ID) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN roles r ON r.id = rp.role_id
		 JOIN user_roles ur ON ur.role_id = r.id
		 WHERE ur.user_id = ? AND r.active = ?
		 ORDER BY p.name ASC`,
		userID,
		true,
	).Scan(&names).Error
	return names, err
}
