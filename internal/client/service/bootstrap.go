package service

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/smallbiznis/railgate/internal/auth/password"
	"github.com/smallbiznis/railgate/internal/auth/scope"
	"github.com/smallbiznis/railgate/internal/client/domain"
	"github.com/smallbiznis/railgate/internal/config"
	"go.uber.org/zap"
)

// Apply upserts every client declared in the registry file. Clients absent
// from the file are left untouched; removal goes through Deactivate.
func (s *Service) Apply(ctx context.Context, file config.ClientsFile) error {
	var errs []error
	for _, spec := range file.Clients {
		if err := s.applyOne(ctx, spec); err != nil {
			s.log.Warn("client bootstrap failed",
				zap.String("client_id", spec.ClientID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) applyOne(ctx context.Context, spec config.ClientSpec) error {
	req := domain.RegisterRequest{
		ClientID:       strings.TrimSpace(spec.ClientID),
		Name:           spec.Name,
		Type:           domain.ClientType(spec.Type),
		RedirectURIs:   spec.RedirectURIs,
		Scopes:         spec.Scopes,
		GrantTypes:     spec.GrantTypes,
		RequireConsent: spec.RequireConsent,
	}
	if spec.SecretEnv != "" {
		req.Secret = os.Getenv(spec.SecretEnv)
	}
	if req.Type == domain.TypeConfidential && req.Secret == "" {
		s.log.Warn("confidential client has no secret configured",
			zap.String("client_id", req.ClientID),
			zap.String("secret_env", spec.SecretEnv),
		)
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	existing, err := s.repo.FindByClientID(lookupCtx, req.ClientID)
	cancel()
	if errors.Is(err, domain.ErrClientNotFound) {
		_, _, err = s.Register(ctx, req)
		return err
	}
	if err != nil {
		return err
	}

	updated, _, err := s.build(req)
	if err != nil {
		return err
	}
	existing.Name = updated.Name
	existing.Type = updated.Type
	existing.RedirectURIs = updated.RedirectURIs
	existing.AllowedScopes = updated.AllowedScopes
	existing.GrantTypes = updated.GrantTypes
	existing.RequireConsent = updated.RequireConsent
	existing.UpdatedAt = updated.UpdatedAt
	switch {
	case existing.Type == domain.TypePublic:
		existing.SecretHash = nil
	case req.Secret != "" && (existing.SecretHash == nil || !password.Verify(req.Secret, *existing.SecretHash)):
		existing.SecretHash = updated.SecretHash
	}

	saveCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.Save(saveCtx, existing); err != nil {
		return err
	}
	s.cache.Delete(existing.ClientID)
	s.log.Info("client updated from registry file",
		zap.String("client_id", existing.ClientID),
		zap.Strings("scopes", scope.FromList(existing.AllowedScopes)),
	)
	return nil
}
