package pgpool

import (
	"context"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertProfile синхронизирует зеркало внешнего identity-сервиса.
func (s *Storage) UpsertProfile(ctx context.Context, p models.Profile) (*models.Profile, error) {
	role := p.Role
	if role == "" {
		role = models.RoleUser
	}
	out := models.Profile{}
	var outRole string
	err := s.db.QueryRow(ctx, `
INSERT INTO profiles (id, email, name, role, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (id) DO UPDATE
SET email = EXCLUDED.email,
    name = CASE WHEN EXCLUDED.name = '' THEN profiles.name ELSE EXCLUDED.name END,
    role = EXCLUDED.role,
    updated_at = EXCLUDED.updated_at
RETURNING id, email, name, role, created_at
`, p.ID, p.Email, p.Name, role, time.Now().UTC()).Scan(&out.ID, &out.Email, &out.Name, &outRole, &out.CreatedAt)
	if err != nil {
		return nil, wrapErr(err, "upsert profile")
	}
	out.Role = outRole
	return &out, nil
}

func (s *Storage) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRow(ctx, `
SELECT id, email, name, role, created_at FROM profiles WHERE id = $1
`, id).Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrUnknownUser, "user %s", id)
	}
	if err != nil {
		return nil, wrapErr(err, "select profile")
	}
	return &p, nil
}
