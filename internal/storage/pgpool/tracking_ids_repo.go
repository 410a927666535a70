package pgpool

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const trackingIDColumns = `
  t.id, t.tracking_number, t.state,
  t.assigned_to, t.assigned_at,
  t.used_at, t.used_in_label,
  t.created_by, t.created_at`

const (
	defaultListLimit = 20
	maxListLimit     = 1000
)

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IngestTrackingIDs вставляет номера пачкой; конфликт по tracking_number считается дубликатом.
// Одна запись аудита на весь вызов пишется в той же транзакции.
func (s *Storage) IngestTrackingIDs(ctx context.Context, in models.IngestBatch) (*models.IngestReport, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rep := &models.IngestReport{
		Invalid:       in.Invalid,
		TotalProvided: in.TotalProvided,
	}

	if len(in.Numbers) > 0 {
		b := &pgx.Batch{}
		for _, n := range in.Numbers {
			b.Queue(`
INSERT INTO tracking_ids (tracking_number, state, created_by, created_at)
VALUES ($1, 'available', $2, $3)
ON CONFLICT (tracking_number) DO NOTHING
RETURNING id
`, n, nullUUID(in.UploadedBy), now)
		}

		br := tx.SendBatch(ctx, b)
		for range in.Numbers {
			var id uint64
			err := br.QueryRow().Scan(&id)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
				rep.Duplicate++
			case err != nil:
				_ = br.Close()
				return nil, wrapErr(err, "insert tracking id")
			default:
				rep.Inserted++
				rep.InsertedIDs = append(rep.InsertedIDs, id)
			}
		}
		if err := br.Close(); err != nil {
			return nil, wrapErr(err, "close batch")
		}
	}

	details, err := json.Marshal(map[string]int{
		"total_provided": rep.TotalProvided,
		"inserted":       rep.Inserted,
		"duplicates":     rep.Duplicate,
		"invalid":        rep.Invalid,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal audit details")
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO tracking_id_audit_log (tracking_id, user_id, action, details, created_at)
VALUES (NULL, $1, $2, $3::jsonb, $4)
`, nullUUID(in.UploadedBy), string(models.AuditActionBulkUpload), string(details), now); err != nil {
		return nil, wrapErr(err, "insert audit")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit tx")
	}
	return rep, nil
}

// AssignTrackingIDs переводит quantity самых старых available-строк в assigned.
// Выборка и переход делаются одним UPDATE ... FROM (SELECT ... FOR UPDATE SKIP LOCKED),
// поэтому параллельные assign никогда не получают одни и те же строки.
func (s *Storage) AssignTrackingIDs(ctx context.Context, req models.AssignRequest) (*models.AssignReport, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := profileExists(ctx, tx, req.TargetUser); err != nil {
		return nil, err
	}

	var available int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM tracking_ids WHERE state = 'available'`).Scan(&available); err != nil {
		return nil, wrapErr(err, "count available")
	}
	if available < int64(req.Quantity) {
		return nil, &models.InsufficientSupplyError{Available: available, Requested: int64(req.Quantity)}
	}

	rows, err := tx.Query(ctx, `
WITH picked AS (
  SELECT id
  FROM tracking_ids
  WHERE state = 'available'
  ORDER BY created_at ASC, id ASC
  LIMIT $1
  FOR UPDATE SKIP LOCKED
)
UPDATE tracking_ids t
SET state = 'assigned', assigned_to = $2, assigned_at = $3
FROM picked
WHERE t.id = picked.id
RETURNING `+trackingIDColumns, req.Quantity, req.TargetUser, now)
	if err != nil {
		return nil, wrapErr(err, "claim available")
	}
	claimed, err := scanTrackingIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) < req.Quantity {
		// часть строк забрал параллельный assign: откат целиком,
		// в ошибке остаток пула после отката, а не число захваченных строк
		_ = tx.Rollback(ctx)
		return nil, &models.InsufficientSupplyError{
			Available: s.countAvailable(ctx, int64(len(claimed))),
			Requested: int64(req.Quantity),
		}
	}
	sortByCreated(claimed)

	details, err := json.Marshal(map[string]string{
		"assigned_to": req.TargetUser.String(),
		"assigned_by": req.AssignedBy.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal audit details")
	}
	if err := insertRowAudit(ctx, tx, claimed, req.AssignedBy, models.AuditActionAssign, details, now); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO user_tracking_assignments (user_id, total_assigned, total_used, last_assigned_at, created_at, updated_at)
VALUES ($1, $2, 0, $3, $3, $3)
ON CONFLICT (user_id) DO UPDATE
SET total_assigned = user_tracking_assignments.total_assigned + EXCLUDED.total_assigned,
    last_assigned_at = EXCLUDED.last_assigned_at,
    updated_at = EXCLUDED.updated_at
`, req.TargetUser, len(claimed), now); err != nil {
		return nil, wrapErr(err, "upsert ledger")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit tx")
	}

	return &models.AssignReport{
		Assigned:   len(claimed),
		TargetUser: req.TargetUser,
		Numbers:    numbersOf(claimed),
	}, nil
}

// ConsumeTrackingID тратит самый старый (по assigned_at) assigned-номер пользователя.
// Строку, заблокированную параллельным consume, пропускаем: два вызова не получат один номер.
func (s *Storage) ConsumeTrackingID(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := profileExists(ctx, tx, userID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
WITH picked AS (
  SELECT id
  FROM tracking_ids
  WHERE state = 'assigned' AND assigned_to = $1
  ORDER BY assigned_at ASC, id ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE tracking_ids t
SET state = 'used', used_at = $3, used_in_label = $2
FROM picked
WHERE t.id = picked.id
RETURNING `+trackingIDColumns, userID, labelID, now)
	if err != nil {
		return nil, wrapErr(err, "claim assigned")
	}
	claimed, err := scanTrackingIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, models.ErrNoAvailableTrackingID
	}
	t := claimed[0]

	tag, err := tx.Exec(ctx, `
UPDATE user_tracking_assignments
SET total_used = total_used + 1, updated_at = $2
WHERE user_id = $1
`, userID, now)
	if err != nil {
		return nil, wrapErr(err, "update ledger")
	}
	if tag.RowsAffected() != 1 {
		return nil, errors.Errorf("ledger row missing for user %s", userID)
	}

	details, err := json.Marshal(map[string]string{"label_id": labelID.String()})
	if err != nil {
		return nil, errors.Wrap(err, "marshal audit details")
	}
	if err := insertRowAudit(ctx, tx, claimed, userID, models.AuditActionConsume, details, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit tx")
	}
	return t, nil
}

// RevokeTrackingIDs возвращает quantity самых старых assigned-строк пользователя в пул.
// Used-строки и total_used не трогаются.
func (s *Storage) RevokeTrackingIDs(ctx context.Context, req models.RevokeRequest) (*models.RevokeReport, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := profileExists(ctx, tx, req.TargetUser); err != nil {
		return nil, err
	}

	var assigned int64
	if err := tx.QueryRow(ctx, `
SELECT count(*) FROM tracking_ids WHERE state = 'assigned' AND assigned_to = $1
`, req.TargetUser).Scan(&assigned); err != nil {
		return nil, wrapErr(err, "count assigned")
	}
	if assigned < int64(req.Quantity) {
		return nil, &models.InsufficientAssignedError{Assigned: assigned, Requested: int64(req.Quantity)}
	}

	rows, err := tx.Query(ctx, `
WITH picked AS (
  SELECT id
  FROM tracking_ids
  WHERE state = 'assigned' AND assigned_to = $1
  ORDER BY assigned_at ASC, id ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
UPDATE tracking_ids t
SET state = 'available', assigned_to = NULL, assigned_at = NULL
FROM picked
WHERE t.id = picked.id
RETURNING `+trackingIDColumns, req.TargetUser, req.Quantity)
	if err != nil {
		return nil, wrapErr(err, "claim assigned")
	}
	claimed, err := scanTrackingIDs(rows)
	if err != nil {
		return nil, err
	}
	if len(claimed) < req.Quantity {
		return nil, &models.InsufficientAssignedError{Assigned: int64(len(claimed)), Requested: int64(req.Quantity)}
	}
	sortByCreated(claimed)

	tag, err := tx.Exec(ctx, `
UPDATE user_tracking_assignments
SET total_assigned = total_assigned - $2, updated_at = $3
WHERE user_id = $1 AND total_assigned - total_used >= $2
`, req.TargetUser, len(claimed), now)
	if err != nil {
		return nil, wrapErr(err, "update ledger")
	}
	if tag.RowsAffected() != 1 {
		return nil, errors.Errorf("ledger for user %s cannot cover revoke of %d", req.TargetUser, len(claimed))
	}

	details, err := json.Marshal(map[string]string{
		"revoked_from": req.TargetUser.String(),
		"revoked_by":   req.RevokedBy.String(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal audit details")
	}
	if err := insertRowAudit(ctx, tx, claimed, req.RevokedBy, models.AuditActionRevoke, details, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err, "commit tx")
	}

	return &models.RevokeReport{
		Revoked:    len(claimed),
		TargetUser: req.TargetUser,
		Numbers:    numbersOf(claimed),
	}, nil
}

func (s *Storage) ListTrackingIDs(ctx context.Context, f models.TrackingIDFilter) ([]*models.TrackingID, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	var where []string
	var args []any
	if f.State != "" {
		args = append(args, string(f.State))
		where = append(where, "t.state = $"+strconv.Itoa(len(args)))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, "t.assigned_to = $"+strconv.Itoa(len(args)))
	}
	if f.Before != nil {
		args = append(args, f.Before.CreatedAt, int64(f.Before.ID))
		where = append(where, "(t.created_at, t.id) < ($"+strconv.Itoa(len(args)-1)+", $"+strconv.Itoa(len(args))+")")
	}

	q := `SELECT ` + trackingIDColumns + ` FROM tracking_ids t`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	q += " ORDER BY t.created_at DESC, t.id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr(err, "select tracking ids")
	}
	return scanTrackingIDs(rows)
}

// countAvailable считает закоммиченные available-строки; при ошибке отдаёт fallback.
func (s *Storage) countAvailable(ctx context.Context, fallback int64) int64 {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM tracking_ids WHERE state = 'available'`).Scan(&n); err != nil {
		return fallback
	}
	return n
}

func profileExists(ctx context.Context, q queryRower, userID uuid.UUID) error {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&ok); err != nil {
		return wrapErr(err, "check profile")
	}
	if !ok {
		return errors.Wrapf(models.ErrUnknownUser, "user %s", userID)
	}
	return nil
}

// insertRowAudit пишет по одной записи аудита на каждую переведённую строку.
func insertRowAudit(ctx context.Context, tx pgx.Tx, items []*models.TrackingID, actor uuid.UUID, action models.AuditAction, details []byte, now time.Time) error {
	ids := make([]int64, 0, len(items))
	for _, t := range items {
		ids = append(ids, int64(t.ID))
	}
	tag, err := tx.Exec(ctx, `
INSERT INTO tracking_id_audit_log (tracking_id, user_id, action, details, created_at)
SELECT id, $2, $3, $4::jsonb, $5
FROM unnest($1::bigint[]) AS id
`, ids, nullUUID(actor), string(action), string(details), now)
	if err != nil {
		return wrapErr(err, "insert audit")
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return errors.Errorf("audit rows %d, expected %d", tag.RowsAffected(), len(ids))
	}
	return nil
}

func scanTrackingIDs(rows pgx.Rows) ([]*models.TrackingID, error) {
	defer rows.Close()

	var out []*models.TrackingID
	for rows.Next() {
		var t models.TrackingID
		var state string
		if err := rows.Scan(
			&t.ID, &t.Number, &state,
			&t.AssignedTo, &t.AssignedAt,
			&t.UsedAt, &t.UsedInLabel,
			&t.CreatedBy, &t.CreatedAt,
		); err != nil {
			return nil, wrapErr(err, "scan tracking id")
		}
		t.State = models.TrackingState(state)
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, wrapErr(rows.Err(), "rows")
	}
	return out, nil
}

func sortByCreated(items []*models.TrackingID) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func numbersOf(items []*models.TrackingID) []string {
	out := make([]string, 0, len(items))
	for _, t := range items {
		out = append(out, t.Number)
	}
	return out
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
