package models

import (
	"time"

	"github.com/google/uuid"
)

type UserAssignment struct {
	UserID         uuid.UUID
	TotalAssigned  int64
	TotalUsed      int64
	LastAssignedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a UserAssignment) Available() int64 {
	return a.TotalAssigned - a.TotalUsed
}

type UserBreakdown struct {
	UserID         uuid.UUID
	Email          string
	Name           string
	TotalAssigned  int64
	TotalUsed      int64
	Available      int64
	LastAssignedAt *time.Time
}

type PoolStats struct {
	Total     int64
	Available int64
	Assigned  int64
	Used      int64
	Users     []UserBreakdown
}

// LedgerDrift расхождение строки леджера с фактическими состояниями tracking_ids.
type LedgerDrift struct {
	UserID        uuid.UUID
	TotalAssigned int64
	TotalUsed     int64
	RowsAssigned  int64
	RowsUsed      int64
	HasLedgerRow  bool
}
