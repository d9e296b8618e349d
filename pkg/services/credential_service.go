package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/legalkit/lexor/pkg/models"
)

// CredentialService manages the credential records the gate verifies
// against. Lookups are by fixed-length hash, never by the presented secret.
type CredentialService struct {
	pool *pgxpool.Pool
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(pool *pgxpool.Pool) *CredentialService {
	return &CredentialService{pool: pool}
}

// Create inserts a credential record. The hash must already be computed.
func (s *CredentialService) Create(ctx context.Context, cred *models.Credential) error {
	if cred.Hash == "" {
		return NewValidationError("hash", "required")
	}
	if !cred.Role.IsValid() {
		return NewValidationError("role", "unknown role")
	}
	if !cred.Tier.IsValid() {
		return NewValidationError("tier", "unknown tier")
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, credential_hash, role, tier, active, description, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cred.ID, cred.Hash, string(cred.Role), string(cred.Tier), cred.Active,
		nullable(cred.Description), cred.ExpiresAt, cred.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// GetByHash looks up a credential by its hash.
func (s *CredentialService) GetByHash(ctx context.Context, hash string) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, credential_hash, role, tier, active, description, expires_at, last_used_at, created_at
		 FROM credentials WHERE credential_hash = $1`, hash)

	var (
		cred        models.Credential
		role        string
		tier        string
		description *string
	)
	err := row.Scan(&cred.ID, &cred.Hash, &role, &tier, &cred.Active,
		&description, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.Role = models.Role(role)
	cred.Tier = models.Tier(tier)
	cred.Description = deref(description)
	return &cred, nil
}

// TouchLastUsed updates the last-used timestamp. Called asynchronously from
// the gate; failures are logged, never surfaced to the request.
func (s *CredentialService) TouchLastUsed(ctx context.Context, id string) {
	_, err := s.pool.Exec(ctx,
		`UPDATE credentials SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		slog.WarnContext(ctx, "Failed to update credential last-used timestamp",
			"credential_id", id, "error", err)
	}
}

// Count returns the number of credential records.
func (s *CredentialService) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return count, nil
}

// List returns all credentials, newest first. Hashes are included; the API
// layer never serializes them (the model hides the hash from JSON).
func (s *CredentialService) List(ctx context.Context) ([]models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, credential_hash, role, tier, active, description, expires_at, last_used_at, created_at
		 FROM credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var (
			cred        models.Credential
			role        string
			tier        string
			description *string
		)
		if err := rows.Scan(&cred.ID, &cred.Hash, &role, &tier, &cred.Active,
			&description, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		cred.Role = models.Role(role)
		cred.Tier = models.Tier(tier)
		cred.Description = deref(description)
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// SetActive enables or disables a credential.
func (s *CredentialService) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
