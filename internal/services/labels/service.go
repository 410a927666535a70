package labels

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Allocator interface {
	Consume(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error)
}

type Repository interface {
	CreateLabel(ctx context.Context, l *models.Label) error
	ListLabels(ctx context.Context, f models.LabelFilter) ([]*models.Label, error)
	MarkLabelDownloaded(ctx context.Context, id, userID uuid.UUID) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	alloc Allocator
	repo  Repository
	rl    RateLimiter

	perMinute int64
	now       func() time.Time
}

func New(alloc Allocator, repo Repository, rl RateLimiter, perMinute int64) *Service {
	return &Service{
		alloc:     alloc,
		repo:      repo,
		rl:        rl,
		perMinute: perMinute,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Issue тратит один номер пользователя и сохраняет этикетку под ним.
// Если consume прошёл, а запись этикетки нет, номер остаётся used:
// возвращаем этикетку вместе с ErrLabelNotSaved, чтобы клиент не потерял номер.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID, in models.LabelInput) (*models.Label, error) {
	now := s.now()

	if s.rl != nil && s.perMinute > 0 {
		allowed, n, err := s.rl.Allow(ctx, "labels:"+userID.String(), s.perMinute, time.Minute)
		switch {
		case err != nil:
			slog.Warn("label rate limiter unavailable", "user_id", userID.String(), "error", err.Error())
		case !allowed:
			return nil, errors.Wrapf(models.ErrRateLimited, "%d labels this minute (limit %d)", n, s.perMinute)
		}
	}

	labelID := uuid.New()
	t, err := s.alloc.Consume(ctx, userID, labelID)
	if err != nil {
		return nil, err
	}

	l := &models.Label{
		ID:             labelID,
		UserID:         userID,
		TrackingNumber: t.Number,
		Sender:         in.Sender,
		Recipient:      in.Recipient,
		Data:           in.Data,
		Status:         models.LabelStatusGenerated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateLabel(ctx, l); err != nil {
		slog.Error("label not saved after consume",
			"user_id", userID.String(),
			"label_id", labelID.String(),
			"tracking_number", t.Number,
			"error", err.Error(),
		)
		return l, errors.Wrapf(models.ErrLabelNotSaved, "label %s: %v", labelID, err)
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, f models.LabelFilter) ([]*models.Label, error) {
	return s.repo.ListLabels(ctx, f)
}

// MarkDownloaded: userID == uuid.Nil снимает проверку владельца (админ).
func (s *Service) MarkDownloaded(ctx context.Context, id, userID uuid.UUID) error {
	if id == uuid.Nil {
		return errors.Wrap(models.ErrInvalidArgument, "label id is required")
	}
	return s.repo.MarkLabelDownloaded(ctx, id, userID)
}
