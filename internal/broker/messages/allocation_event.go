package messages

import (
	"time"

	"github.com/pkg/errors"
)

// AllocationEvent публикуется после коммита каждой операции пула.
type AllocationEvent struct {
	Action       string    `json:"action"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	Count        int       `json:"count"`
	TrackingIDs  []string  `json:"tracking_ids,omitempty"`
	LabelID      string    `json:"label_id,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`

	// только для bulk_upload
	Duplicates int `json:"duplicates,omitempty"`
	Invalid    int `json:"invalid,omitempty"`
}

func (e AllocationEvent) Validate() error {
	if e.Action == "" {
		return errors.New("action is required")
	}
	if e.Count < 0 {
		return errors.New("count must be non-negative")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("occurred_at is required")
	}
	return nil
}

// Key партиционирует события по пользователю, bulk_upload идёт по актору.
func (e AllocationEvent) Key() []byte {
	if e.TargetUserID != "" {
		return []byte(e.TargetUserID)
	}
	return []byte(e.ActorID)
}
