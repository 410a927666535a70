package pgpool

import (
	"context"

	"github.com/BearBump/TrackPool/internal/models"
)

func (s *Storage) ListAudit(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	rows, err := s.db.Query(ctx, `
SELECT id, tracking_id, user_id, action, details, created_at
FROM tracking_id_audit_log
WHERE ($1::text = '' OR action = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, string(f.Action), limit, offset)
	if err != nil {
		return nil, wrapErr(err, "select audit")
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.TrackingID, &e.UserID, &action, &details, &e.CreatedAt); err != nil {
			return nil, wrapErr(err, "scan audit")
		}
		e.Action = models.AuditAction(action)
		e.Details = details
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, wrapErr(rows.Err(), "rows")
	}
	return out, nil
}
