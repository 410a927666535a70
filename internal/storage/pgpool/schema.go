package pgpool

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS profiles (
  id UUID PRIMARY KEY,
  email TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_ids (
  id BIGSERIAL PRIMARY KEY,
  tracking_number TEXT NOT NULL UNIQUE,
  state TEXT NOT NULL DEFAULT 'available' CHECK (state IN ('available', 'assigned', 'used')),
  assigned_to UUID NULL REFERENCES profiles(id),
  assigned_at TIMESTAMPTZ NULL,
  used_at TIMESTAMPTZ NULL,
  used_in_label UUID NULL,
  created_by UUID NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT tracking_ids_owner_chk CHECK ((state = 'available') = (assigned_to IS NULL)),
  CONSTRAINT tracking_ids_used_chk CHECK ((state = 'used') = (used_in_label IS NOT NULL))
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_ids_available ON tracking_ids(created_at, id) WHERE state = 'available'`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_ids_assigned_owner ON tracking_ids(assigned_to, assigned_at, id) WHERE state = 'assigned'`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_ids_owner_state ON tracking_ids(assigned_to, state)`,
		`
CREATE TABLE IF NOT EXISTS user_tracking_assignments (
  user_id UUID PRIMARY KEY REFERENCES profiles(id),
  total_assigned BIGINT NOT NULL DEFAULT 0,
  total_used BIGINT NOT NULL DEFAULT 0,
  last_assigned_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT user_tracking_assignments_totals_chk CHECK (total_used >= 0 AND total_assigned >= total_used)
)`,
		// append-only: UPDATE/DELETE отсутствуют в коде
		`
CREATE TABLE IF NOT EXISTS tracking_id_audit_log (
  id BIGSERIAL PRIMARY KEY,
  tracking_id BIGINT NULL REFERENCES tracking_ids(id),
  user_id UUID NULL,
  action TEXT NOT NULL CHECK (action IN ('bulk_upload', 'assign', 'consume', 'revoke')),
  details JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_id_audit_log_created_at ON tracking_id_audit_log(created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_id_audit_log_tracking_id ON tracking_id_audit_log(tracking_id)`,
		`
CREATE TABLE IF NOT EXISTS shipping_labels (
  id UUID PRIMARY KEY,
  user_id UUID NOT NULL REFERENCES profiles(id),
  tracking_number TEXT NOT NULL REFERENCES tracking_ids(tracking_number),
  sender_name TEXT NOT NULL DEFAULT '',
  sender_street TEXT NOT NULL DEFAULT '',
  sender_city TEXT NOT NULL DEFAULT '',
  sender_state TEXT NOT NULL DEFAULT '',
  sender_zip TEXT NOT NULL DEFAULT '',
  recipient_name TEXT NOT NULL,
  recipient_street TEXT NOT NULL,
  recipient_city TEXT NOT NULL,
  recipient_state TEXT NOT NULL,
  recipient_zip TEXT NOT NULL,
  label_data JSONB NULL,
  status TEXT NOT NULL DEFAULT 'generated' CHECK (status IN ('generated', 'downloaded')),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipping_labels_user_created ON shipping_labels(user_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "exec ddl")
		}
	}
	return nil
}
