// Package auth verifies presented credentials against the credential store.
// Secrets are never persisted: lookups go through a fixed-length hash.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/services"
)

// Verification failures, ordered from absent to present-but-unusable.
var (
	ErrMissingCredential  = errors.New("missing credential")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrInactiveCredential = errors.New("credential inactive")
	ErrExpiredCredential  = errors.New("credential expired")
	ErrForbiddenRole      = errors.New("insufficient role")
)

// HashCredential returns the fixed-length lookup hash of a presented secret.
func HashCredential(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Service resolves presented secrets to credential records.
type Service struct {
	credentials *services.CredentialService
	logger      *slog.Logger
}

// NewService creates a new auth Service
func NewService(credentials *services.CredentialService) *Service {
	return &Service{
		credentials: credentials,
		logger:      slog.With("component", "auth"),
	}
}

// Verify resolves a presented secret to its credential record, rejecting
// unknown, inactive, and expired credentials. On success the last-used
// timestamp is updated fire-and-forget: a failed write never rejects the
// request.
func (s *Service) Verify(ctx context.Context, presented string) (*models.Credential, error) {
	if presented == "" {
		return nil, ErrMissingCredential
	}

	cred, err := s.credentials.GetByHash(ctx, HashCredential(presented))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	if !cred.Active {
		return nil, ErrInactiveCredential
	}
	if cred.Expired(time.Now()) {
		return nil, ErrExpiredCredential
	}

	go s.credentials.TouchLastUsed(context.Background(), cred.ID)

	return cred, nil
}

// RequireRole enforces the minimum role for an endpoint.
func RequireRole(cred *models.Credential, required models.Role) error {
	if !cred.Role.Satisfies(required) {
		return ErrForbiddenRole
	}
	return nil
}

// Bootstrap seeds the initial admin credential when the credential table is
// empty. Only the hash of the secret is stored. With no secret configured
// and no credentials present, the system starts but refuses every request.
func (s *Service) Bootstrap(ctx context.Context, secret string) error {
	count, err := s.credentials.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count credentials: %w", err)
	}
	if count > 0 {
		return nil
	}

	if secret == "" {
		s.logger.Warn("No credentials exist and no bootstrap secret is configured; all requests will be refused")
		return nil
	}

	cred := &models.Credential{
		Hash:        HashCredential(secret),
		Role:        models.RoleAdmin,
		Tier:        models.TierUnlimited,
		Active:      true,
		Description: "bootstrap admin credential",
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return fmt.Errorf("failed to create bootstrap credential: %w", err)
	}

	s.logger.Info("Created bootstrap admin credential", "credential_id", cred.ID)
	return nil
}
