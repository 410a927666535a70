package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type LabelStatus string

const (
	LabelStatusGenerated  LabelStatus = "generated"
	LabelStatusDownloaded LabelStatus = "downloaded"
)

type Address struct {
	Name   string
	Street string
	City   string
	State  string
	Zip    string
}

type LabelInput struct {
	Sender    Address
	Recipient Address
	Data      json.RawMessage
}

type Label struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	TrackingNumber string
	Sender         Address
	Recipient      Address
	Data           json.RawMessage
	Status         LabelStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LabelFilter struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}
