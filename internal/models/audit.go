package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionBulkUpload AuditAction = "bulk_upload"
	AuditActionAssign     AuditAction = "assign"
	AuditActionConsume    AuditAction = "consume"
	AuditActionRevoke     AuditAction = "revoke"
)

func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionBulkUpload, AuditActionAssign, AuditActionConsume, AuditActionRevoke:
		return true
	}
	return false
}

type AuditEntry struct {
	ID         uint64
	TrackingID *uint64
	UserID     *uuid.UUID
	Action     AuditAction
	Details    json.RawMessage
	CreatedAt  time.Time
}

type AuditFilter struct {
	Action AuditAction
	Limit  int
	Offset int
}
