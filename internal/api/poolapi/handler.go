// Package poolapi HTTP-поверхность пула: JSON поверх chi.
package poolapi

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/BearBump/TrackPool/internal/api/auth"
	"github.com/BearBump/TrackPool/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const defaultMaxUploadBytes = 10 << 20

type Allocation interface {
	Ingest(ctx context.Context, raw []string, uploadedBy uuid.UUID) (*models.IngestReport, error)
	Assign(ctx context.Context, targetUser uuid.UUID, quantity int, assignedBy uuid.UUID) (*models.AssignReport, error)
	Consume(ctx context.Context, userID, labelID uuid.UUID) (*models.TrackingID, error)
	Revoke(ctx context.Context, targetUser uuid.UUID, quantity int, revokedBy uuid.UUID) (*models.RevokeReport, error)
	Stats(ctx context.Context) (*models.PoolStats, error)
	Assignment(ctx context.Context, userID uuid.UUID) (*models.UserAssignment, error)
	ListTrackingIDs(ctx context.Context, f models.TrackingIDFilter) ([]*models.TrackingID, error)
	ExportTrackingIDs(ctx context.Context, state models.TrackingState, pageSize int) ([]*models.TrackingID, error)
	ListAudit(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error)
}

type Labels interface {
	Issue(ctx context.Context, userID uuid.UUID, in models.LabelInput) (*models.Label, error)
	List(ctx context.Context, f models.LabelFilter) ([]*models.Label, error)
	MarkDownloaded(ctx context.Context, id, userID uuid.UUID) error
}

type Profiles interface {
	UpsertProfile(ctx context.Context, p models.Profile) (*models.Profile, error)
}

type Handler struct {
	alloc    Allocation
	labels   Labels
	profiles Profiles
	auth     *auth.Authenticator

	validate       *validator.Validate
	maxUploadBytes int64
}

func New(alloc Allocation, labels Labels, profiles Profiles, a *auth.Authenticator) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// в деталях ошибок поля по json-именам
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		alloc:          alloc,
		labels:         labels,
		profiles:       profiles,
		auth:           a,
		validate:       v,
		maxUploadBytes: defaultMaxUploadBytes,
	}
}

func (h *Handler) WithMaxUploadBytes(n int64) *Handler {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// Register вешает /api/... на роутер. Публичные ручки (healthz, swagger) остаются за вызывающим.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Get("/me/assignment", h.myAssignment)
		r.Post("/tracking-ids/consume", h.consume)
		r.Post("/labels", h.issueLabel)
		r.Get("/labels", h.myLabels)
		r.Post("/labels/{id}/downloaded", h.markDownloaded)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.auth.RequireAdmin)

			r.Post("/tracking-ids/ingest", h.ingest)
			r.Post("/tracking-ids/upload", h.upload)
			r.Get("/tracking-ids/template", h.template)
			r.Get("/tracking-ids", h.listTrackingIDs)
			r.Get("/tracking-ids/export", h.export)
			r.Post("/assignments", h.assign)
			r.Post("/revocations", h.revoke)
			r.Get("/stats", h.stats)
			r.Get("/audit", h.audit)
			r.Post("/users", h.createUser)
			r.Get("/labels", h.adminLabels)
		})
	})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(models.ErrInvalidArgument, "malformed json: "+err.Error())
	}
	return h.validate.Struct(dst)
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if limit, err = intParam(q.Get("limit")); err != nil {
		return 0, 0, errors.Wrap(models.ErrInvalidArgument, "limit: "+err.Error())
	}
	if offset, err = intParam(q.Get("offset")); err != nil {
		return 0, 0, errors.Wrap(models.ErrInvalidArgument, "offset: "+err.Error())
	}
	if limit < 0 || offset < 0 {
		return 0, 0, errors.Wrap(models.ErrInvalidArgument, "limit and offset must be non-negative")
	}
	return limit, offset, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func uuidParam(s, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(models.ErrInvalidArgument, "%s must be a uuid", name)
	}
	return id, nil
}
