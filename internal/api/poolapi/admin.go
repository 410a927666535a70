package poolapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/upload"
	"github.com/pkg/errors"
)

const exportPageSize = 1000

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.alloc.Ingest(r.Context(), req.TrackingNumbers, identity(r).UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResponse(rep))
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, r, tooBig)
			return
		}
		writeErr(w, r, errors.Wrap(models.ErrInvalidArgument, "multipart form: "+err.Error()))
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeErr(w, r, errors.Wrap(models.ErrInvalidArgument, "file not found in request"))
		return
	}
	defer file.Close()

	format, err := upload.FormatFromFilename(hdr.Filename)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	raw, err := upload.ReadCandidates(file, format)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	slog.Info("bulk upload parsed", "file", hdr.Filename, "format", string(format), "candidates", len(raw))
	rep, err := h.alloc.Ingest(r.Context(), raw, identity(r).UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIngestResponse(rep))
}

func (h *Handler) template(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(upload.FormatXLSX)
	}
	format, err := upload.ParseFormat(name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if format == upload.FormatTXT {
		writeErr(w, r, errors.Wrap(upload.ErrUnsupportedFormat, "template is available as xlsx or csv"))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tracking_numbers_template.%s"`, format))
	if err := upload.WriteTemplate(w, format); err != nil {
		slog.Error("write template", "format", string(format), "error", err.Error())
	}
}

func (h *Handler) listTrackingIDs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	items, err := h.alloc.ListTrackingIDs(r.Context(), models.TrackingIDFilter{
		State:  models.TrackingState(r.URL.Query().Get("state")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[trackingIDItem]{Items: toTrackingIDItems(items), Limit: limit, Offset: offset})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(upload.FormatCSV)
	}
	format, err := upload.ParseFormat(name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if format == upload.FormatTXT {
		writeErr(w, r, errors.Wrap(upload.ErrUnsupportedFormat, "export is available as csv or xlsx"))
		return
	}

	items, err := h.alloc.ExportTrackingIDs(r.Context(), models.TrackingState(r.URL.Query().Get("state")), exportPageSize)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tracking_ids.%s"`, format))
	if err := upload.WriteExport(w, format, items); err != nil {
		slog.Error("write export", "format", string(format), "error", err.Error())
	}
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	target, err := uuidParam(req.UserID, "user_id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.alloc.Assign(r.Context(), target, req.Quantity, identity(r).UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assignResponse{Assigned: rep.Assigned, TargetUser: rep.TargetUser.String()})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	target, err := uuidParam(req.UserID, "user_id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	rep, err := h.alloc.Revoke(r.Context(), target, req.Quantity, identity(r).UserID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: rep.Revoked, TargetUser: rep.TargetUser.String()})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.alloc.Stats(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (h *Handler) audit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	items, err := h.alloc.ListAudit(r.Context(), models.AuditFilter{
		Action: models.AuditAction(r.URL.Query().Get("action")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auditItem]{Items: toAuditItems(items), Limit: limit, Offset: offset})
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	id, err := uuidParam(req.ID, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.profiles.UpsertProfile(r.Context(), models.Profile{ID: id, Email: req.Email, Name: req.Name, Role: req.Role})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profileResponse{
		ID:        p.ID.String(),
		Email:     p.Email,
		Name:      p.Name,
		Role:      p.Role,
		CreatedAt: p.CreatedAt,
	})
}
