package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/apperr"
	auditdomain "github.com/smallbiznis/railgate/internal/audit/domain"
	authdomain "github.com/smallbiznis/railgate/internal/auth/domain"
	authrepo "github.com/smallbiznis/railgate/internal/auth/repository"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	clientdomain "github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"github.com/smallbiznis/railgate/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticPermissions map[snowflake.ID][]string

func (s staticPermissions) EffectivePermissions(_ context.Context, userID snowflake.ID) ([]string, error) {
	return s[userID], nil
}

type captureSink struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (c *captureSink) Record(_ context.Context, e auditdomain.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

type tokenFixture struct {
	engine *Engine
	clock  *clock.FakeClock
	users  authdomain.Repository
	user   *authdomain.User
	client *clientdomain.OAuthClient
	sink   *captureSink
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&RefreshToken{}, &authdomain.User{}))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))

	users, _ := authrepo.New(conn)
	user := &authdomain.User{
		ID:           node.Generate(),
		Username:     "alice",
		PasswordHash: "x",
		Active:       true,
		CreatedAt:    clk.Now(),
		UpdatedAt:    clk.Now(),
	}
	require.NoError(t, users.Create(context.Background(), user))

	cfg := config.Config{
		Issuer:       "https://auth.example.com",
		StoreTimeout: time.Second,
		OAuth: config.OAuthConfig{
			AccessTokenTTL:      15 * time.Minute,
			RefreshTokenTTL:     30 * 24 * time.Hour,
			RevokeFamilyOnReuse: true,
		},
	}
	keys, err := NewKeySet(cfg, zap.NewNop())
	require.NoError(t, err)

	sink := &captureSink{}
	engine := NewEngine(Params{
		Log:         zap.NewNop(),
		Config:      cfg,
		Clock:       clk,
		GenID:       node,
		Store:       NewStore(conn),
		Keys:        keys,
		Revocations: NewMemoryRevocationList(clk.Now),
		Users:       users,
		Permissions: staticPermissions{user.ID: {"read", "write"}},
		Audit:       sink,
	})

	client := &clientdomain.OAuthClient{
		ClientID:      "spa",
		Type:          clientdomain.TypePublic,
		AllowedScopes: []string{"read", "write"},
		GrantTypes:    []string{clientdomain.GrantAuthorizationCode, clientdomain.GrantRefreshToken},
		Active:        true,
	}
	return &tokenFixture{engine: engine, clock: clk, users: users, user: user, client: client, sink: sink}
}

func (f *tokenFixture) issue(t *testing.T) *TokenPair {
	t.Helper()
	pair, err := f.engine.Issue(context.Background(), IssueRequest{
		Client:      f.client,
		User:        &Subject{ID: f.user.ID, Username: f.user.Username},
		GrantType:   clientdomain.GrantAuthorizationCode,
		Scope:       scope.Set{"read", "write"},
		Permissions: []string{"read", "write"},
	})
	require.NoError(t, err)
	return pair
}

func TestIssueAuthorizationCodePair(t *testing.T) {
	f := newTokenFixture(t)
	pair := f.issue(t)

	assert.Equal(t, TokenTypeBearer, pair.TokenType)
	assert.EqualValues(t, 900, pair.ExpiresIn)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "read write", pair.Scope)

	claims, err := f.engine.ParseAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, f.user.ID.String(), claims.UserID)
	assert.Equal(t, "spa", claims.ClientID)
	assert.Equal(t, []string{"read", "write"}, claims.Permissions)
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
	assert.Equal(t, pair.JTI, claims.ID)
	assert.True(t, claims.HasPermission("write"))
}

func TestClientCredentialsHasNoRefreshToken(t *testing.T) {
	f := newTokenFixture(t)
	pair, err := f.engine.Issue(context.Background(), IssueRequest{
		Client:    f.client,
		GrantType: clientdomain.GrantClientCredentials,
		Scope:     scope.Set{"read"},
	})
	require.NoError(t, err)
	assert.Empty(t, pair.RefreshToken)

	claims, err := f.engine.ParseAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "spa", claims.Subject)
	assert.Empty(t, claims.UserID)
}

func TestAccessTokenExpiresAndRejectsTampering(t *testing.T) {
	f := newTokenFixture(t)
	pair := f.issue(t)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err := f.engine.ParseAccessToken(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	other := newTokenFixture(t)
	_, err = other.engine.ParseAccessToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	f.clock.Advance(15 * time.Minute)
	_, err = f.engine.ParseAccessToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestRefreshRotates(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	first := f.issue(t)

	second, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: first.RefreshToken, ClientID: "spa"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	_, err = f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: first.RefreshToken})
	assert.ErrorIs(t, err, apperr.ErrInvalidGrant)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	first := f.issue(t)

	second, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: first.RefreshToken})
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: first.RefreshToken})
	require.ErrorIs(t, err, apperr.ErrInvalidGrant)

	_, err = f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: second.RefreshToken})
	assert.ErrorIs(t, err, apperr.ErrInvalidGrant)

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, auditdomain.ActionRefreshReuseDetected, f.sink.events[0].Action)
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	f := newTokenFixture(t)
	pair := f.issue(t)

	const workers = 12
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := f.engine.Refresh(context.Background(), f.client, RefreshRequest{RefreshToken: pair.RefreshToken}); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestRefreshScopeMayOnlyNarrow(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	_, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: pair.RefreshToken, Scope: "read admin"})
	require.ErrorIs(t, err, apperr.ErrInvalidScope)

	narrowed, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: pair.RefreshToken, Scope: "read"})
	require.NoError(t, err)
	assert.Equal(t, "read", narrowed.Scope)
}

func TestRefreshRejectsOtherClientAndExpiry(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	other := &clientdomain.OAuthClient{ClientID: "other", Active: true}
	_, err := f.engine.Refresh(ctx, other, RefreshRequest{RefreshToken: pair.RefreshToken})
	require.ErrorIs(t, err, apperr.ErrInvalidGrant)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, apperr.ErrInvalidGrant)
}

func TestRefreshFailsForDeactivatedUser(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	require.NoError(t, f.users.SetActive(ctx, f.user.ID, false, f.clock.Now()))

	_, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, apperr.ErrInvalidGrant)
	assert.False(t, f.engine.Introspect(ctx, pair.AccessToken, "").Active)
	assert.False(t, f.engine.Introspect(ctx, pair.RefreshToken, HintRefreshToken).Active)
}

func TestRevokeAccessToken(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	res := f.engine.Introspect(ctx, pair.AccessToken, HintAccessToken)
	require.True(t, res.Active)
	assert.Equal(t, "alice", res.Username)
	assert.Equal(t, "read write", res.Scope)

	require.NoError(t, f.engine.Revoke(ctx, pair.AccessToken, "", "spa"))

	_, err := f.engine.ParseAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
	assert.False(t, f.engine.Introspect(ctx, pair.AccessToken, "").Active)
}

func TestRevokeRefreshToken(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	require.True(t, f.engine.Introspect(ctx, pair.RefreshToken, HintRefreshToken).Active)
	require.NoError(t, f.engine.Revoke(ctx, pair.RefreshToken, HintRefreshToken, "spa"))

	assert.False(t, f.engine.Introspect(ctx, pair.RefreshToken, "").Active)
	_, err := f.engine.Refresh(ctx, f.client, RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, apperr.ErrInvalidGrant)
}

func TestRevokeForeignOrUnknownTokenSucceedsSilently(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()
	pair := f.issue(t)

	require.NoError(t, f.engine.Revoke(ctx, pair.RefreshToken, HintRefreshToken, "other"))
	assert.True(t, f.engine.Introspect(ctx, pair.RefreshToken, HintRefreshToken).Active)

	assert.NoError(t, f.engine.Revoke(ctx, "garbage", "", "spa"))
	assert.NoError(t, f.engine.Revoke(ctx, "", "", "spa"))
}

func TestIntrospectUnknown(t *testing.T) {
	f := newTokenFixture(t)
	res := f.engine.Introspect(context.Background(), "nope", "")
	assert.Equal(t, Introspection{}, res)
}

func TestPurgeExpiredRefreshTokens(t *testing.T) {
	f := newTokenFixture(t)
	f.issue(t)
	f.clock.Advance(31 * 24 * time.Hour)

	n, err := f.engine.PurgeExpired(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRejectReasonIsNotExposed(t *testing.T) {
	f := newTokenFixture(t)
	_, err := f.engine.Refresh(context.Background(), f.client, RefreshRequest{RefreshToken: "unknown"})
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ReasonUnknown, appErr.Reason)
	assert.Equal(t, apperr.WireError{Error: "invalid_grant", ErrorDescription: "the provided grant is invalid"}, apperr.Public(err))
}
