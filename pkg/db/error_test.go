package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "gorm sentinel", err: gorm.ErrDuplicatedKey, want: true},
		{name: "postgres", err: errors.New(`ERROR: duplicate key value violates unique constraint "users_username_key"`), want: true},
		{name: "postgres typed", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "postgres other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "mysql typed", err: fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), want: true},
		{name: "mysql other number", err: &mysql.MySQLError{Number: 1452}, want: false},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: users.username"), want: true},
		{name: "other", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestNewTestIsolatesDatabases(t *testing.T) {
	type probe struct {
		ID   int64 `gorm:"primaryKey"`
		Name string
	}

	first, err := NewTest()
	if err != nil {
		t.Fatalf("open first db: %v", err)
	}
	second, err := NewTest()
	if err != nil {
		t.Fatalf("open second db: %v", err)
	}
	if err := first.AutoMigrate(&probe{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := first.Create(&probe{ID: 1, Name: "a"}).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if second.Migrator().HasTable(&probe{}) {
		t.Fatalf("expected second database to be isolated")
	}
}
