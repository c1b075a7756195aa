package web

import (
	stderrors "errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/hpungsan/logsift/internal/errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the structured error fields.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// renderError writes err as a structured JSON error. Errors that are not
// LogsiftErrors are reported as INTERNAL without their text.
func renderError(w http.ResponseWriter, err error) {
	var lErr *errors.LogsiftError
	if !stderrors.As(err, &lErr) {
		log.Error().Err(err).Msg("admin request failed")
		lErr = errors.NewInternal(nil)
	} else if lErr.Status >= 500 {
		log.Error().Err(err).Str("code", string(lErr.Code)).Msg("admin request failed")
	}

	renderJSON(w, lErr.Status, ErrorBody{Error: ErrorDetail{
		Code:    string(lErr.Code),
		Message: lErr.Message,
		Status:  lErr.Status,
		Details: lErr.Details,
	}})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
