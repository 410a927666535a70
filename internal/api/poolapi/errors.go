package poolapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/TrackPool/internal/models"
	"github.com/BearBump/TrackPool/internal/upload"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const noAvailableMessage = "No tracking IDs available, contact your administrator"

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}

// WriteError отдаёт ошибку без деталей; нужен auth-мидлварю.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// writeErr переводит доменную ошибку в HTTP-статус и код.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, errorBody{Error: body})
}

func classify(err error) (int, errorPayload) {
	var (
		verrs    validator.ValidationErrors
		supply   *models.InsufficientSupplyError
		assigned *models.InsufficientAssignedError
		tooBig   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &verrs):
		details := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError{Field: fe.Namespace(), Rule: fe.Tag(), Param: fe.Param()})
		}
		return http.StatusBadRequest, errorPayload{Code: "validation_failed", Message: "request validation failed", Details: details}
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, errorPayload{Code: "payload_too_large", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrInvalidFormat),
		errors.Is(err, models.ErrBatchTooLarge),
		errors.Is(err, upload.ErrUnsupportedFormat):
		return http.StatusBadRequest, errorPayload{Code: "validation_failed", Message: err.Error()}
	case errors.Is(err, models.ErrUnknownUser):
		return http.StatusNotFound, errorPayload{Code: "unknown_user", Message: err.Error()}
	case errors.Is(err, models.ErrLabelNotFound):
		return http.StatusNotFound, errorPayload{Code: "label_not_found", Message: err.Error()}
	case errors.As(err, &supply):
		return http.StatusConflict, errorPayload{
			Code:    "insufficient_supply",
			Message: supply.Error(),
			Details: map[string]int64{"available": supply.Available, "requested": supply.Requested},
		}
	case errors.As(err, &assigned):
		return http.StatusConflict, errorPayload{
			Code:    "insufficient_assigned",
			Message: assigned.Error(),
			Details: map[string]int64{"assigned": assigned.Assigned, "requested": assigned.Requested},
		}
	case errors.Is(err, models.ErrInsufficientSupply):
		return http.StatusConflict, errorPayload{Code: "insufficient_supply", Message: err.Error()}
	case errors.Is(err, models.ErrInsufficientAssigned):
		return http.StatusConflict, errorPayload{Code: "insufficient_assigned", Message: err.Error()}
	case errors.Is(err, models.ErrNoAvailableTrackingID):
		return http.StatusConflict, errorPayload{Code: "no_available_tracking_id", Message: noAvailableMessage}
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Code: "rate_limited", Message: err.Error()}
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Code: "store_unavailable", Message: "storage is temporarily unavailable"}
	default:
		return http.StatusInternalServerError, errorPayload{Code: "internal", Message: "internal error"}
	}
}
