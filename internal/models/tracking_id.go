package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackingState: available -> assigned -> used, плюс assigned -> available через revoke.
type TrackingState string

const (
	TrackingStateAvailable TrackingState = "available"
	TrackingStateAssigned  TrackingState = "assigned"
	TrackingStateUsed      TrackingState = "used"
)

func (s TrackingState) Valid() bool {
	switch s {
	case TrackingStateAvailable, TrackingStateAssigned, TrackingStateUsed:
		return true
	}
	return false
}

type TrackingID struct {
	ID          uint64
	Number      string
	State       TrackingState
	AssignedTo  *uuid.UUID
	AssignedAt  *time.Time
	UsedAt      *time.Time
	UsedInLabel *uuid.UUID
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
}

type TrackingIDFilter struct {
	State  TrackingState
	UserID *uuid.UUID
	Limit  int
	Offset int
	// Before: только строки строго раньше курсора в порядке (created_at, id) DESC.
	Before *TrackingIDCursor
}

type TrackingIDCursor struct {
	CreatedAt time.Time
	ID        uint64
}

// IngestBatch уже нормализованные номера; Invalid и TotalProvided посчитаны до записи.
type IngestBatch struct {
	Numbers       []string
	Invalid       int
	TotalProvided int
	UploadedBy    uuid.UUID
}

type IngestReport struct {
	Inserted      int
	Duplicate     int
	Invalid       int
	TotalProvided int
	InsertedIDs   []uint64
}

type AssignRequest struct {
	TargetUser uuid.UUID
	AssignedBy uuid.UUID
	Quantity   int
}

type AssignReport struct {
	Assigned   int
	TargetUser uuid.UUID
	Numbers    []string
}

type RevokeRequest struct {
	TargetUser uuid.UUID
	RevokedBy  uuid.UUID
	Quantity   int
}

type RevokeReport struct {
	Revoked    int
	TargetUser uuid.UUID
	Numbers    []string
}
