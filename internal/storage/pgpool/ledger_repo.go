package pgpool

import (
	"context"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// GetAssignment возвращает нулевой леджер, если пользователю ещё ничего не назначали.
func (s *Storage) GetAssignment(ctx context.Context, userID uuid.UUID) (*models.UserAssignment, error) {
	a := models.UserAssignment{UserID: userID}
	err := s.db.QueryRow(ctx, `
SELECT total_assigned, total_used, last_assigned_at, created_at, updated_at
FROM user_tracking_assignments
WHERE user_id = $1
`, userID).Scan(&a.TotalAssigned, &a.TotalUsed, &a.LastAssignedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &a, nil
	}
	if err != nil {
		return nil, wrapErr(err, "select assignment")
	}
	return &a, nil
}

// PoolStats читает счётчики по состояниям и разбивку по пользователям из одного снапшота.
func (s *Storage) PoolStats(ctx context.Context) (*models.PoolStats, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := &models.PoolStats{Users: []models.UserBreakdown{}}
	if err := tx.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE state = 'available'),
  count(*) FILTER (WHERE state = 'assigned'),
  count(*) FILTER (WHERE state = 'used')
FROM tracking_ids
`).Scan(&st.Total, &st.Available, &st.Assigned, &st.Used); err != nil {
		return nil, wrapErr(err, "count states")
	}

	rows, err := tx.Query(ctx, `
SELECT
  a.user_id, COALESCE(p.email, ''), COALESCE(p.name, ''),
  a.total_assigned, a.total_used, a.last_assigned_at
FROM user_tracking_assignments a
LEFT JOIN profiles p ON p.id = a.user_id
ORDER BY a.total_assigned DESC, a.user_id ASC
`)
	if err != nil {
		return nil, wrapErr(err, "select breakdown")
	}
	defer rows.Close()

	for rows.Next() {
		var u models.UserBreakdown
		if err := rows.Scan(&u.UserID, &u.Email, &u.Name, &u.TotalAssigned, &u.TotalUsed, &u.LastAssignedAt); err != nil {
			return nil, wrapErr(err, "scan breakdown")
		}
		u.Available = u.TotalAssigned - u.TotalUsed
		st.Users = append(st.Users, u)
	}
	if rows.Err() != nil {
		return nil, wrapErr(rows.Err(), "rows")
	}
	return st, nil
}

// LedgerDrift сравнивает леджер с фактическими строками tracking_ids.
// Ожидается total_used == #used и total_assigned - total_used == #assigned.
func (s *Storage) LedgerDrift(ctx context.Context) ([]models.LedgerDrift, error) {
	rows, err := s.db.Query(ctx, `
WITH counted AS (
  SELECT
    assigned_to AS user_id,
    count(*) FILTER (WHERE state = 'assigned') AS rows_assigned,
    count(*) FILTER (WHERE state = 'used') AS rows_used
  FROM tracking_ids
  WHERE assigned_to IS NOT NULL
  GROUP BY assigned_to
)
SELECT
  COALESCE(a.user_id, c.user_id),
  COALESCE(a.total_assigned, 0),
  COALESCE(a.total_used, 0),
  COALESCE(c.rows_assigned, 0),
  COALESCE(c.rows_used, 0),
  a.user_id IS NOT NULL
FROM user_tracking_assignments a
FULL OUTER JOIN counted c ON c.user_id = a.user_id
WHERE COALESCE(a.total_used, 0) <> COALESCE(c.rows_used, 0)
   OR COALESCE(a.total_assigned, 0) - COALESCE(a.total_used, 0) <> COALESCE(c.rows_assigned, 0)
ORDER BY 1
`)
	if err != nil {
		return nil, wrapErr(err, "select ledger drift")
	}
	defer rows.Close()

	var out []models.LedgerDrift
	for rows.Next() {
		var d models.LedgerDrift
		if err := rows.Scan(&d.UserID, &d.TotalAssigned, &d.TotalUsed, &d.RowsAssigned, &d.RowsUsed, &d.HasLedgerRow); err != nil {
			return nil, wrapErr(err, "scan ledger drift")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, wrapErr(rows.Err(), "rows")
	}
	return out, nil
}
