package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/password"
	"github.com/smallbiznis/railgate/internal/auth/repository"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/pkg/db"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	users []snowflake.ID
}

func (r *recordingInvalidator) Invalidate(userID snowflake.ID) {
	r.mu.Lock()
	r.users = append(r.users, userID)
	r.mu.Unlock()
}

func testConfig() config.Config {
	return config.Config{
		StoreTimeout: time.Second,
		OAuth: config.OAuthConfig{
			SessionTTL:         12 * time.Hour,
			SessionMaxLifetime: 24 * time.Hour,
		},
		Lockout: config.LockoutConfig{
			MaxFailures: 5,
			Cooldown:    15 * time.Minute,
		},
	}
}

func newTestService(t *testing.T) (*Service, *clock.FakeClock, *recordingInvalidator) {
	t.Helper()
	return newTestServiceWithConfig(t, testConfig())
}

func newTestServiceWithConfig(t *testing.T, cfg config.Config) (*Service, *clock.FakeClock, *recordingInvalidator) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC))
	inv := &recordingInvalidator{}
	svc := NewService(Params{
		Log:         zap.NewNop(),
		Config:      cfg,
		Clock:       clk,
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Invalidator: inv,
	})
	return svc, clk, inv
}

func createAlice(t *testing.T, svc *Service) *authdomain.User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Username: "alice",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func TestLoginSuccessCreatesSession(t *testing.T) {
	svc, clk, _ := newTestService(t)
	user := createAlice(t, svc)

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Username:  "Alice",
		Password:  "correct-password",
		IPAddress: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("expected login to succeed: %v", err)
	}
	if result.RawToken == "" {
		t.Fatalf("expected raw session token")
	}
	if result.Session.UserID != user.ID || result.Session.Username != "alice" {
		t.Fatalf("unexpected session context %+v", result.Session)
	}
	if !result.ExpiresAt.Equal(clk.Now().Add(12 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", result.ExpiresAt)
	}

	sc, err := svc.Authenticate(context.Background(), result.RawToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sc.UserID != user.ID || sc.Renewed {
		t.Fatalf("unexpected session context %+v", sc)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _, _ := newTestService(t)
	createAlice(t, svc)

	_, wrongPassword := svc.Login(context.Background(), authdomain.LoginRequest{Username: "alice", Password: "wrong-password"})
	_, unknownUser := svc.Login(context.Background(), authdomain.LoginRequest{Username: "mallory", Password: "whatever-pass"})

	if !errors.Is(wrongPassword, authdomain.ErrInvalidCredentials) || !errors.Is(unknownUser, authdomain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", wrongPassword, unknownUser)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("messages must match: %q vs %q", wrongPassword.Error(), unknownUser.Error())
	}
	if authdomain.FailureReason(wrongPassword) != authdomain.ReasonBadPassword {
		t.Fatalf("unexpected internal reason %q", authdomain.FailureReason(wrongPassword))
	}
	if authdomain.FailureReason(unknownUser) != authdomain.ReasonUnknownUser {
		t.Fatalf("unexpected internal reason %q", authdomain.FailureReason(unknownUser))
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	svc, clk, _ := newTestService(t)
	createAlice(t, svc)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "wrong-password"})
		if authdomain.FailureReason(err) != authdomain.ReasonBadPassword {
			t.Fatalf("attempt %d: expected bad password, got %v", i+1, err)
		}
	}

	_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if !errors.Is(err, authdomain.ErrInvalidCredentials) {
		t.Fatalf("expected locked account to reject correct password, got %v", err)
	}
	if authdomain.FailureReason(err) != authdomain.ReasonLocked {
		t.Fatalf("expected locked reason, got %q", authdomain.FailureReason(err))
	}

	clk.Advance(15 * time.Minute)
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}

	user, err := svc.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.FailedLoginCount != 0 || user.LockedUntil != nil {
		t.Fatalf("expected counters reset, got %d / %v", user.FailedLoginCount, user.LockedUntil)
	}
}

func TestZeroLockoutConfigFallsBackToDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout = config.LockoutConfig{}
	svc, clk, _ := newTestServiceWithConfig(t, cfg)
	createAlice(t, svc)
	ctx := context.Background()

	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "wrong-password"}); authdomain.FailureReason(err) != authdomain.ReasonBadPassword {
		t.Fatalf("expected bad password, got %v", err)
	}
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("one failure must not lock the account: %v", err)
	}

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "wrong-password"})
	}
	_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if authdomain.FailureReason(err) != authdomain.ReasonLocked {
		t.Fatalf("expected lock after five failures, got %v", err)
	}
	clk.Advance(14 * time.Minute)
	_, err = svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if authdomain.FailureReason(err) != authdomain.ReasonLocked {
		t.Fatalf("expected default cooldown to still apply, got %v", err)
	}
}

func TestSuccessfulLoginResetsFailureCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	createAlice(t, svc)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "wrong-password"})
	}
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("expected login: %v", err)
	}
	for i := 0; i < 4; i++ {
		_, _ = svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "wrong-password"})
	}
	if _, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("counter should have been reset by the earlier success: %v", err)
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	inactive := false
	_, err := svc.CreateUser(context.Background(), authdomain.CreateUserRequest{
		Username: "bob",
		Password: "correct-password",
		Active:   &inactive,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err = svc.Login(context.Background(), authdomain.LoginRequest{Username: "bob", Password: "correct-password"})
	if authdomain.FailureReason(err) != authdomain.ReasonInactive {
		t.Fatalf("expected inactive failure, got %v", err)
	}
}

func TestDeactivationRevokesSessionsAndInvalidates(t *testing.T) {
	svc, _, inv := newTestService(t)
	user := createAlice(t, svc)
	ctx := context.Background()

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.SetActive(ctx, user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(inv.users) != 1 || inv.users[0] != user.ID {
		t.Fatalf("expected invalidation for %s, got %v", user.ID, inv.users)
	}
	if _, err := svc.Authenticate(ctx, result.RawToken); !errors.Is(err, authdomain.ErrSessionRevoked) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestAuthenticateRenewsNearExpiry(t *testing.T) {
	svc, clk, _ := newTestService(t)
	createAlice(t, svc)
	ctx := context.Background()

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	start := clk.Now()

	clk.Advance(7 * time.Hour)
	sc, err := svc.Authenticate(ctx, result.RawToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !sc.Renewed || !sc.ExpiresAt.Equal(start.Add(19*time.Hour)) {
		t.Fatalf("expected renewal to %v, got %+v", start.Add(19*time.Hour), sc)
	}

	// renewal is capped by the absolute lifetime
	clk.Advance(11 * time.Hour)
	sc, err = svc.Authenticate(ctx, result.RawToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !sc.ExpiresAt.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("expected cap at %v, got %v", start.Add(24*time.Hour), sc.ExpiresAt)
	}

	clk.Advance(6 * time.Hour)
	if _, err := svc.Authenticate(ctx, result.RawToken); !errors.Is(err, authdomain.ErrSessionExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	createAlice(t, svc)
	ctx := context.Background()

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "alice", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, result.RawToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.RawToken); !errors.Is(err, authdomain.ErrSessionRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "bad name", Password: "long-enough"}); !errors.Is(err, authdomain.ErrInvalidUsername) {
		t.Fatalf("expected invalid username, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "carol", Password: "short"}); !errors.Is(err, authdomain.ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	createAlice(t, svc)
	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "alice", Password: "another-password"}); !errors.Is(err, authdomain.ErrUserExists) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestLoginUpgradesOutdatedPasswordHash(t *testing.T) {
	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	repo, sessionRepo := repository.New(dbConn)
	node, _ := snowflake.NewNode(2)
	svc := NewService(Params{
		Log:         zap.NewNop(),
		Config:      testConfig(),
		Clock:       clock.NewFakeClock(time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)),
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Invalidator: &recordingInvalidator{},
	})
	user := createAlice(t, svc)

	salt := []byte("0123456789abcdef")
	key := argon2.IDKey([]byte("correct-password"), salt, 1, 32*1024, 4, 32)
	weak := fmt.Sprintf("$argon2id$v=19$m=32768,t=1,p=4$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(key))
	if err := dbConn.Model(&authdomain.User{}).Where("id = ?", user.ID).Update("password_hash", weak).Error; err != nil {
		t.Fatalf("plant weak hash: %v", err)
	}

	if _, err := svc.Login(context.Background(), authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("expected login with outdated hash: %v", err)
	}

	var stored authdomain.User
	if err := dbConn.Where("id = ?", user.ID).First(&stored).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if stored.PasswordHash == weak || password.NeedsRehash(stored.PasswordHash) {
		t.Fatalf("expected hash to be upgraded, got %q", stored.PasswordHash)
	}
	if _, err := svc.Login(context.Background(), authdomain.LoginRequest{Username: "alice", Password: "correct-password"}); err != nil {
		t.Fatalf("expected login with upgraded hash: %v", err)
	}
}
