package pgpool

import (
	"context"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (s *Storage) CreateLabel(ctx context.Context, l *models.Label) error {
	var data any
	if len(l.Data) > 0 {
		data = string(l.Data)
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO shipping_labels (
  id, user_id, tracking_number,
  sender_name, sender_street, sender_city, sender_state, sender_zip,
  recipient_name, recipient_street, recipient_city, recipient_state, recipient_zip,
  label_data, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::jsonb,$15,$16,$16)
`, l.ID, l.UserID, l.TrackingNumber,
		l.Sender.Name, l.Sender.Street, l.Sender.City, l.Sender.State, l.Sender.Zip,
		l.Recipient.Name, l.Recipient.Street, l.Recipient.City, l.Recipient.State, l.Recipient.Zip,
		data, string(l.Status), l.CreatedAt.UTC())
	return wrapErr(err, "insert label")
}

func (s *Storage) ListLabels(ctx context.Context, f models.LabelFilter) ([]*models.Label, error) {
	limit, offset := clampPage(f.Limit, f.Offset)

	rows, err := s.db.Query(ctx, `
SELECT
  id, user_id, tracking_number,
  sender_name, sender_street, sender_city, sender_state, sender_zip,
  recipient_name, recipient_street, recipient_city, recipient_state, recipient_zip,
  label_data, status, created_at, updated_at
FROM shipping_labels
WHERE ($1::uuid IS NULL OR user_id = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`, f.UserID, limit, offset)
	if err != nil {
		return nil, wrapErr(err, "select labels")
	}
	defer rows.Close()

	var out []*models.Label
	for rows.Next() {
		var l models.Label
		var data []byte
		var status string
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.TrackingNumber,
			&l.Sender.Name, &l.Sender.Street, &l.Sender.City, &l.Sender.State, &l.Sender.Zip,
			&l.Recipient.Name, &l.Recipient.Street, &l.Recipient.City, &l.Recipient.State, &l.Recipient.Zip,
			&data, &status, &l.CreatedAt, &l.UpdatedAt,
		); err != nil {
			return nil, wrapErr(err, "scan label")
		}
		l.Data = data
		l.Status = models.LabelStatus(status)
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, wrapErr(rows.Err(), "rows")
	}
	return out, nil
}

// MarkLabelDownloaded; userID == uuid.Nil снимает проверку владельца (админ).
func (s *Storage) MarkLabelDownloaded(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
UPDATE shipping_labels
SET status = 'downloaded', updated_at = $3
WHERE id = $1 AND ($2::uuid IS NULL OR user_id = $2)
`, id, nullUUID(userID), time.Now().UTC())
	if err != nil {
		return wrapErr(err, "update label")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrLabelNotFound, "label %s", id)
	}
	return nil
}
