package allocation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/TrackPool/internal/broker/messages"
	"github.com/BearBump/TrackPool/internal/cache"
	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/trackingnum"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// снапшот лежит под pool:stats:<gen>, мутации увеличивают gen
	statsGenKey    = "pool:stats:gen"
	statsKeyPrefix = "pool:stats:"

	defaultMaxBatch = 10_000
	maxExportPage   = 1000

	afterMutationTimeout = 5 * time.Second
)

type Repository interface {
	IngestTrackingIDs(ctx context.Context, in models.IngestBatch) (*models.IngestReport, error)
	AssignTrackingIDs(ctx context.Context, req models.AssignRequest) (*models.AssignReport, error)
	ConsumeTrackingID(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error)
	RevokeTrackingIDs(ctx context.Context, req models.RevokeRequest) (*models.RevokeReport, error)
	PoolStats(ctx context.Context) (*models.PoolStats, error)
	GetAssignment(ctx context.Context, userID uuid.UUID) (*models.UserAssignment, error)
	ListTrackingIDs(ctx context.Context, f models.TrackingIDFilter) ([]*models.TrackingID, error)
	ListAudit(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	statsTTL time.Duration

	producer Publisher
	topic    string
	retry    func() backoff.BackOff

	maxBatch int
	now      func() time.Time
}

func New(repo Repository, c cache.BytesCache, statsTTL time.Duration) *Service {
	return &Service{
		repo:     repo,
		cache:    c,
		statsTTL: statsTTL,
		maxBatch: defaultMaxBatch,
		now:      func() time.Time { return time.Now().UTC() },
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// WithEvents включает публикацию AllocationEvent после каждого коммита.
func (s *Service) WithEvents(p Publisher, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithMaxBatch(n int) *Service {
	if n > 0 {
		s.maxBatch = n
	}
	return s
}

// Ingest: пустые после trim строки пропускаются, остальные нормализуются;
// неверная длина -> invalid, конфликт уникальности -> duplicate.
func (s *Service) Ingest(ctx context.Context, raw []string, uploadedBy uuid.UUID) (*models.IngestReport, error) {
	if len(raw) > s.maxBatch {
		return nil, errors.Wrapf(models.ErrBatchTooLarge, "%d items (max %d)", len(raw), s.maxBatch)
	}

	batch := models.IngestBatch{
		Numbers:       make([]string, 0, len(raw)),
		TotalProvided: len(raw),
		UploadedBy:    uploadedBy,
	}
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		n := trackingnum.Normalize(r)
		if trackingnum.Imprecise(r) || !trackingnum.IsValid(n) {
			batch.Invalid++
			continue
		}
		batch.Numbers = append(batch.Numbers, n)
	}

	rep, err := s.repo.IngestTrackingIDs(ctx, batch)
	if err != nil {
		return nil, err
	}

	slog.Info("tracking ids ingested",
		"uploaded_by", uploadedBy.String(),
		"total_provided", rep.TotalProvided,
		"inserted", rep.Inserted,
		"duplicates", rep.Duplicate,
		"invalid", rep.Invalid,
	)
	s.afterMutation(ctx, messages.AllocationEvent{
		Action:     string(models.AuditActionBulkUpload),
		ActorID:    uploadedBy.String(),
		Count:      rep.Inserted,
		Duplicates: rep.Duplicate,
		Invalid:    rep.Invalid,
	})
	return rep, nil
}

func (s *Service) Assign(ctx context.Context, targetUser uuid.UUID, quantity int, assignedBy uuid.UUID) (*models.AssignReport, error) {
	if quantity <= 0 {
		return nil, errors.Wrap(models.ErrInvalidArgument, "quantity must be positive")
	}
	if targetUser == uuid.Nil {
		return nil, errors.Wrap(models.ErrUnknownUser, "target user is required")
	}

	rep, err := s.repo.AssignTrackingIDs(ctx, models.AssignRequest{
		TargetUser: targetUser,
		AssignedBy: assignedBy,
		Quantity:   quantity,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("tracking ids assigned",
		"target_user", targetUser.String(),
		"assigned_by", assignedBy.String(),
		"count", rep.Assigned,
	)
	s.afterMutation(ctx, messages.AllocationEvent{
		Action:       string(models.AuditActionAssign),
		TargetUserID: targetUser.String(),
		ActorID:      assignedBy.String(),
		Count:        rep.Assigned,
		TrackingIDs:  rep.Numbers,
	})
	return rep, nil
}

// Consume тратит один assigned-номер пользователя под этикетку labelID.
func (s *Service) Consume(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error) {
	if userID == uuid.Nil {
		return nil, errors.Wrap(models.ErrUnknownUser, "user is required")
	}
	if labelID == uuid.Nil {
		return nil, errors.Wrap(models.ErrInvalidArgument, "label id is required")
	}

	t, err := s.repo.ConsumeTrackingID(ctx, userID, labelID)
	if err != nil {
		return nil, err
	}

	slog.Info("tracking id consumed",
		"user_id", userID.String(),
		"label_id", labelID.String(),
		"tracking_id", t.ID,
	)
	s.afterMutation(ctx, messages.AllocationEvent{
		Action:       string(models.AuditActionConsume),
		TargetUserID: userID.String(),
		ActorID:      userID.String(),
		Count:        1,
		TrackingIDs:  []string{t.Number},
		LabelID:      labelID.String(),
	})
	return t, nil
}

func (s *Service) Revoke(ctx context.Context, targetUser uuid.UUID, quantity int, revokedBy uuid.UUID) (*models.RevokeReport, error) {
	if quantity <= 0 {
		return nil, errors.Wrap(models.ErrInvalidArgument, "quantity must be positive")
	}
	if targetUser == uuid.Nil {
		return nil, errors.Wrap(models.ErrUnknownUser, "target user is required")
	}

	rep, err := s.repo.RevokeTrackingIDs(ctx, models.RevokeRequest{
		TargetUser: targetUser,
		RevokedBy:  revokedBy,
		Quantity:   quantity,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("tracking ids revoked",
		"target_user", targetUser.String(),
		"revoked_by", revokedBy.String(),
		"count", rep.Revoked,
	)
	s.afterMutation(ctx, messages.AllocationEvent{
		Action:       string(models.AuditActionRevoke),
		TargetUserID: targetUser.String(),
		ActorID:      revokedBy.String(),
		Count:        rep.Revoked,
		TrackingIDs:  rep.Numbers,
	})
	return rep, nil
}

// Stats кэшируется целиком под текущим поколением. Поколение читается до
// запроса в БД, поэтому снапшот, снятый до мутации, попадает под старый ключ
// и после Incr уже не читается. Ошибки кэша не фатальны: идём в БД.
func (s *Service) Stats(ctx context.Context) (*models.PoolStats, error) {
	var key string
	if s.cacheEnabled() {
		key = s.statsCacheKey(ctx)
	}
	if key != "" {
		b, ok, err := s.cache.Get(ctx, key)
		if err == nil && ok {
			var st models.PoolStats
			if json.Unmarshal(b, &st) == nil {
				return &st, nil
			}
		}
	}

	st, err := s.repo.PoolStats(ctx)
	if err != nil {
		return nil, err
	}
	if st.Users == nil {
		st.Users = []models.UserBreakdown{}
	}

	if key != "" {
		b, _ := json.Marshal(st)
		_ = s.cache.Set(ctx, key, b, s.statsTTL)
	}
	return st, nil
}

// statsCacheKey возвращает "" если поколение прочитать не удалось:
// тогда снапшот не кэшируется вовсе.
func (s *Service) statsCacheKey(ctx context.Context) string {
	b, ok, err := s.cache.Get(ctx, statsGenKey)
	if err != nil {
		return ""
	}
	if !ok {
		return statsKeyPrefix + "0"
	}
	return statsKeyPrefix + string(b)
}

func (s *Service) Assignment(ctx context.Context, userID uuid.UUID) (*models.UserAssignment, error) {
	return s.repo.GetAssignment(ctx, userID)
}

func (s *Service) ListTrackingIDs(ctx context.Context, f models.TrackingIDFilter) ([]*models.TrackingID, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown state %q", f.State)
	}
	return s.repo.ListTrackingIDs(ctx, f)
}

// ExportTrackingIDs выбирает все строки страницами по pageSize.
// Страницы идут по курсору (created_at, id), а не по offset: номера,
// загруженные во время выгрузки, новее курсора и не сдвигают следующие страницы.
func (s *Service) ExportTrackingIDs(ctx context.Context, state models.TrackingState, pageSize int) ([]*models.TrackingID, error) {
	if pageSize <= 0 || pageSize > maxExportPage {
		pageSize = maxExportPage
	}
	f := models.TrackingIDFilter{State: state, Limit: pageSize}
	var out []*models.TrackingID
	for {
		page, err := s.ListTrackingIDs(ctx, f)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
		last := page[len(page)-1]
		f.Before = &models.TrackingIDCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (s *Service) ListAudit(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown action %q", f.Action)
	}
	return s.repo.ListAudit(ctx, f)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.statsTTL > 0
}

// afterMutation вызывается только после коммита: сдвигает поколение кэша
// статистики и публикует событие. Ни то, ни другое не влияет на результат операции.
// Отмена запроса клиентом сюда не доходит, коммит уже состоялся.
func (s *Service) afterMutation(ctx context.Context, ev messages.AllocationEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterMutationTimeout)
	defer cancel()

	if s.cacheEnabled() {
		if _, err := s.cache.Incr(ctx, statsGenKey); err != nil {
			slog.Warn("stats cache invalidate", "error", err.Error())
		}
	}

	if s.producer == nil || s.topic == "" {
		return
	}
	ev.OccurredAt = s.now()
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal allocation event", "error", err.Error())
		return
	}
	err = backoff.Retry(func() error {
		return s.producer.Publish(ctx, s.topic, ev.Key(), b)
	}, backoff.WithContext(s.retry(), ctx))
	if err != nil {
		slog.Error("publish allocation event", "action", ev.Action, "error", err.Error())
	}
}
