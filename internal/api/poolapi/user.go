package poolapi

import (
	"net/http"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/trackingnum"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (h *Handler) myAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.alloc.Assignment(r.Context(), identity(r).UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentResponse{
		TotalAssigned:  a.TotalAssigned,
		TotalUsed:      a.TotalUsed,
		Available:      a.Available(),
		LastAssignedAt: a.LastAssignedAt,
	})
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	labelID, err := uuidParam(req.LabelID, "label_id")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	t, err := h.alloc.Consume(r.Context(), identity(r).UserID, labelID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consumeResponse{
		TrackingNumber:        t.Number,
		TrackingNumberDisplay: trackingnum.Format(t.Number),
	})
}

func (h *Handler) issueLabel(w http.ResponseWriter, r *http.Request) {
	var req issueLabelRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	l, err := h.labels.Issue(r.Context(), identity(r).UserID, models.LabelInput{
		Sender:    req.Sender.model(),
		Recipient: req.Recipient.model(),
		Data:      req.Data,
	})
	if errors.Is(err, models.ErrLabelNotSaved) && l != nil {
		// номер уже потрачен: отдаём его клиенту вместе с ошибкой
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorPayload{
			Code:    "label_not_saved",
			Message: "tracking number was consumed but the label could not be saved",
			Details: map[string]string{
				"label_id":                l.ID.String(),
				"tracking_number":         l.TrackingNumber,
				"tracking_number_display": trackingnum.Format(l.TrackingNumber),
			},
		}})
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLabelResponse(l))
}

func (h *Handler) myLabels(w http.ResponseWriter, r *http.Request) {
	user := identity(r).UserID
	h.listLabels(w, r, &user)
}

func (h *Handler) adminLabels(w http.ResponseWriter, r *http.Request) {
	var user *uuid.UUID
	if s := r.URL.Query().Get("user_id"); s != "" {
		id, err := uuidParam(s, "user_id")
		if err != nil {
			writeErr(w, r, err)
			return
		}
		user = &id
	}
	h.listLabels(w, r, user)
}

func (h *Handler) listLabels(w http.ResponseWriter, r *http.Request, user *uuid.UUID) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ls, err := h.labels.List(r.Context(), models.LabelFilter{UserID: user, Limit: limit, Offset: offset})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	items := make([]labelResponse, 0, len(ls))
	for _, l := range ls {
		items = append(items, toLabelResponse(l))
	}
	writeJSON(w, http.StatusOK, listResponse[labelResponse]{Items: items, Limit: limit, Offset: offset})
}

func (h *Handler) markDownloaded(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(chi.URLParam(r, "id"), "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	caller := identity(r)
	owner := caller.UserID
	if caller.IsAdmin() {
		owner = uuid.Nil
	}
	if err := h.labels.MarkDownloaded(r.Context(), id, owner); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
