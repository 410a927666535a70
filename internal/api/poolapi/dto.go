package poolapi

import (
	"encoding/json"
	"time"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/trackingnum"
	"github.com/google/uuid"
)

type ingestRequest struct {
	TrackingNumbers []string `json:"tracking_numbers" validate:"required,min=1"`
}

type ingestResponse struct {
	Inserted      int `json:"inserted"`
	Duplicates    int `json:"duplicates"`
	Invalid       int `json:"invalid"`
	TotalProvided int `json:"total_provided"`
}

func toIngestResponse(r *models.IngestReport) ingestResponse {
	return ingestResponse{
		Inserted:      r.Inserted,
		Duplicates:    r.Duplicate,
		Invalid:       r.Invalid,
		TotalProvided: r.TotalProvided,
	}
}

type quantityRequest struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

type assignResponse struct {
	Assigned   int    `json:"assigned"`
	TargetUser string `json:"target_user"`
}

type revokeResponse struct {
	Revoked    int    `json:"revoked"`
	TargetUser string `json:"target_user"`
}

type consumeRequest struct {
	LabelID string `json:"label_id" validate:"required,uuid"`
}

type consumeResponse struct {
	TrackingNumber        string `json:"tracking_number"`
	TrackingNumberDisplay string `json:"tracking_number_display"`
}

type assignmentResponse struct {
	TotalAssigned  int64      `json:"total_assigned"`
	TotalUsed      int64      `json:"total_used"`
	Available      int64      `json:"available"`
	LastAssignedAt *time.Time `json:"last_assigned_at"`
}

type userBreakdown struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	TotalAssigned  int64      `json:"total_assigned"`
	TotalUsed      int64      `json:"total_used"`
	Available      int64      `json:"available"`
	LastAssignedAt *time.Time `json:"last_assigned_at"`
}

type statsResponse struct {
	Total     int64           `json:"total"`
	Available int64           `json:"available"`
	Assigned  int64           `json:"assigned"`
	Used      int64           `json:"used"`
	Users     []userBreakdown `json:"users"`
}

func toStatsResponse(st *models.PoolStats) statsResponse {
	out := statsResponse{
		Total:     st.Total,
		Available: st.Available,
		Assigned:  st.Assigned,
		Used:      st.Used,
		Users:     make([]userBreakdown, 0, len(st.Users)),
	}
	for _, u := range st.Users {
		out.Users = append(out.Users, userBreakdown{
			UserID:         u.UserID.String(),
			Email:          u.Email,
			Name:           u.Name,
			TotalAssigned:  u.TotalAssigned,
			TotalUsed:      u.TotalUsed,
			Available:      u.Available,
			LastAssignedAt: u.LastAssignedAt,
		})
	}
	return out
}

type trackingIDItem struct {
	ID                    uint64     `json:"id"`
	TrackingNumber        string     `json:"tracking_number"`
	TrackingNumberDisplay string     `json:"tracking_number_display"`
	State                 string     `json:"state"`
	AssignedTo            *uuid.UUID `json:"assigned_to"`
	AssignedAt            *time.Time `json:"assigned_at"`
	UsedAt                *time.Time `json:"used_at"`
	UsedInLabel           *uuid.UUID `json:"used_in_label"`
	CreatedAt             time.Time  `json:"created_at"`
}

func toTrackingIDItems(items []*models.TrackingID) []trackingIDItem {
	out := make([]trackingIDItem, 0, len(items))
	for _, t := range items {
		out = append(out, trackingIDItem{
			ID:                    t.ID,
			TrackingNumber:        t.Number,
			TrackingNumberDisplay: trackingnum.Format(t.Number),
			State:                 string(t.State),
			AssignedTo:            t.AssignedTo,
			AssignedAt:            t.AssignedAt,
			UsedAt:                t.UsedAt,
			UsedInLabel:           t.UsedInLabel,
			CreatedAt:             t.CreatedAt,
		})
	}
	return out
}

type auditItem struct {
	ID         uint64          `json:"id"`
	TrackingID *uint64         `json:"tracking_id"`
	UserID     *uuid.UUID      `json:"user_id"`
	Action     string          `json:"action"`
	Details    json.RawMessage `json:"details"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toAuditItems(items []*models.AuditEntry) []auditItem {
	out := make([]auditItem, 0, len(items))
	for _, e := range items {
		details := e.Details
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		out = append(out, auditItem{
			ID:         e.ID,
			TrackingID: e.TrackingID,
			UserID:     e.UserID,
			Action:     string(e.Action),
			Details:    details,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type createUserRequest struct {
	ID    string `json:"id" validate:"required,uuid"`
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"omitempty,max=200"`
	Role  string `json:"role" validate:"omitempty,oneof=admin user"`
}

type profileResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type addressDTO struct {
	Name   string `json:"name" validate:"required,max=200"`
	Street string `json:"street" validate:"required,max=200"`
	City   string `json:"city" validate:"required,max=100"`
	State  string `json:"state" validate:"required,max=50"`
	Zip    string `json:"zip" validate:"required,max=16"`
}

func (a addressDTO) model() models.Address {
	return models.Address{Name: a.Name, Street: a.Street, City: a.City, State: a.State, Zip: a.Zip}
}

func fromAddress(a models.Address) addressDTO {
	return addressDTO{Name: a.Name, Street: a.Street, City: a.City, State: a.State, Zip: a.Zip}
}

type issueLabelRequest struct {
	Sender    addressDTO      `json:"sender" validate:"required"`
	Recipient addressDTO      `json:"recipient" validate:"required"`
	Data      json.RawMessage `json:"data"`
}

type labelResponse struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	TrackingNumber        string          `json:"tracking_number"`
	TrackingNumberDisplay string          `json:"tracking_number_display"`
	Sender                addressDTO      `json:"sender"`
	Recipient             addressDTO      `json:"recipient"`
	Data                  json.RawMessage `json:"data,omitempty"`
	Status                string          `json:"status"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func toLabelResponse(l *models.Label) labelResponse {
	return labelResponse{
		ID:                    l.ID.String(),
		UserID:                l.UserID.String(),
		TrackingNumber:        l.TrackingNumber,
		TrackingNumberDisplay: trackingnum.Format(l.TrackingNumber),
		Sender:                fromAddress(l.Sender),
		Recipient:             fromAddress(l.Recipient),
		Data:                  l.Data,
		Status:                string(l.Status),
		CreatedAt:             l.CreatedAt,
		UpdatedAt:             l.UpdatedAt,
	}
}
