package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railgate/internal/auth/domain"
	"github.com/smallbiznis/railgate/internal/auth/password"
	"github.com/smallbiznis/railgate/internal/clock"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionTokenBytes = 32
	minPasswordLength = 8
	maxUsernameLength = 64

	defaultMaxFailures = 5
	defaultLockout     = 15 * time.Minute
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Clock       clock.Clock
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	GenID       *snowflake.Node
	Invalidator domain.PermissionInvalidator `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
	invalidator domain.PermissionInvalidator

	sessionTTL         time.Duration
	sessionMaxLifetime time.Duration
	maxFailures        int
	lockout            time.Duration
	storeTimeout       time.Duration
}

func New(p Params) domain.Service {
	return NewService(p)
}

// NewService returns the concrete service; New wraps it for fx.
func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	maxFailures := p.Config.Lockout.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	lockout := p.Config.Lockout.Cooldown
	if lockout <= 0 {
		lockout = defaultLockout
	}
	return &Service{
		log:                p.Log.Named("auth.service"),
		repo:               p.Repo,
		sessionRepo:        p.SessionRepo,
		genID:              p.GenID,
		clock:              clk,
		invalidator:        p.Invalidator,
		sessionTTL:         p.Config.OAuth.SessionTTL,
		sessionMaxLifetime: p.Config.OAuth.SessionMaxLifetime,
		maxFailures:        maxFailures,
		lockout:            lockout,
		storeTimeout:       p.Config.StoreTimeout,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	username, err := normalizeUsername(req.Username)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := s.clock.Now()
	user := &domain.User{
		ID:           s.genID.Generate(),
		Username:     username,
		PasswordHash: hashed,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and opens a session. Every failure returns a
// *domain.LoginFailure that compares equal to ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	username, err := normalizeUsername(req.Username)
	if err != nil || req.Password == "" {
		password.VerifyDummy(req.Password)
		return nil, &domain.LoginFailure{Reason: domain.ReasonUnknownUser}
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	user, err := s.repo.FindByUsername(storeCtx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			password.VerifyDummy(req.Password)
			return nil, &domain.LoginFailure{Reason: domain.ReasonUnknownUser}
		}
		return nil, err
	}

	now := s.clock.Now()
	if user.IsLocked(now) {
		password.VerifyDummy(req.Password)
		return nil, &domain.LoginFailure{Reason: domain.ReasonLocked}
	}
	if user.LockedUntil != nil {
		// the previous lock ran out; start counting from zero again
		if err := s.repo.ClearExpiredLock(storeCtx, user.ID, now); err != nil {
			return nil, err
		}
	}

	if !password.Verify(req.Password, user.PasswordHash) {
		if err := s.repo.RecordLoginFailure(storeCtx, user.ID, s.maxFailures, now.Add(s.lockout)); err != nil {
			return nil, err
		}
		return nil, &domain.LoginFailure{Reason: domain.ReasonBadPassword}
	}
	if !user.Active {
		return nil, &domain.LoginFailure{Reason: domain.ReasonInactive}
	}

	var rehashed string
	if password.NeedsRehash(user.PasswordHash) {
		if rehashed, err = password.Hash(req.Password); err != nil {
			s.log.Warn("password rehash failed", zap.String("user_id", user.ID.String()), zap.Error(err))
			rehashed = ""
		}
	}
	if err := s.repo.RecordLoginSuccess(storeCtx, user.ID, now, rehashed); err != nil {
		return nil, err
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        strings.TrimSpace(req.UserAgent),
		IPAddress:        strings.TrimSpace(req.IPAddress),
		ExpiresAt:        now.Add(s.sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(storeCtx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		Session: domain.SessionContext{
			SessionID: session.ID,
			UserID:    user.ID,
			Username:  user.Username,
			ExpiresAt: session.ExpiresAt,
		},
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	err = s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

// Authenticate resolves a session cookie into a SessionContext. The user's
// active flag is checked live on every call. Sessions with less than half
// their TTL left are renewed, bounded by the absolute max lifetime.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.SessionContext, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}

	expiresAt := session.ExpiresAt
	renewed := false
	if session.ExpiresAt.Sub(now) < s.sessionTTL/2 {
		candidate := now.Add(s.sessionTTL)
		if s.sessionMaxLifetime > 0 {
			if limit := session.CreatedAt.Add(s.sessionMaxLifetime); candidate.After(limit) {
				candidate = limit
			}
		}
		if candidate.After(expiresAt) {
			expiresAt = candidate
			renewed = true
		}
	}

	if err := s.sessionRepo.TouchSession(ctx, session.ID, now, expiresAt); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionRevoked
		}
		return nil, err
	}

	return &domain.SessionContext{
		SessionID: session.ID,
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: expiresAt,
		Renewed:   renewed,
	}, nil
}

// SetActive flips the account flag. Deactivation revokes every open session.
// Cached permissions are dropped before returning either way.
func (s *Service) SetActive(ctx context.Context, userID snowflake.ID, active bool) error {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	now := s.clock.Now()
	if err := s.repo.SetActive(ctx, userID, active, now); err != nil {
		return err
	}
	if !active {
		if err := s.sessionRepo.RevokeUserSessions(ctx, userID, now); err != nil {
			return err
		}
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}

	s.log.Info("user status changed",
		zap.String("user_id", userID.String()),
		zap.Bool("active", active),
	)
	return nil
}

func (s *Service) FindByID(ctx context.Context, userID snowflake.ID) (*domain.User, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.FindByID(ctx, userID)
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	normalized, err := normalizeUsername(username)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.FindByUsername(ctx, normalized)
}

func normalizeUsername(raw string) (string, error) {
	username := strings.ToLower(strings.TrimSpace(raw))
	if username == "" || len(username) > maxUsernameLength {
		return "", domain.ErrInvalidUsername
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '.', r == '-', r == '_', r == '@':
		default:
			return "", domain.ErrInvalidUsername
		}
	}
	return username, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
