package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/oauth"
	"github.com/smallbiznis/railgate/internal/oauth/code"
	"github.com/smallbiznis/railgate/internal/oauth/token"
	rbacdomain "github.com/smallbiznis/railgate/internal/rbac/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table owned by the service. Dialects without embedded
// SQL create them through AutoMigrate.
func Models() []any {
	return []any{
		&authdomain.User{},
		&authdomain.Session{},
		&rbacdomain.Role{},
		&rbacdomain.Permission{},
		&rbacdomain.UserRole{},
		&rbacdomain.RolePermission{},
		&clientdomain.OAuthClient{},
		&code.AuthorizationCode{},
		&token.RefreshToken{},
		&oauth.ConsentGrant{},
		&auditdomain.AuditLog{},
	}
}

// Run brings the schema up to date for the connected dialect.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
