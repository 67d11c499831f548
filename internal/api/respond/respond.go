package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/itscraftings/converse/internal/model"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	writeError(w, statusCode, message, "")
}

func writeError(w http.ResponseWriter, statusCode int, message, field string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
		Field:   field,
	})
}

// WriteBadRequest writes a 400 Bad Request response
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteServiceError maps a service-layer error onto its HTTP status.
// Unclassified errors become a 500 with a generic message.
func WriteServiceError(w http.ResponseWriter, err error) {
	var (
		ve model.ValidationError
		ne model.NotFoundError
		ce model.ConflictError
		ae model.AuthorizationError
		te model.TransactionError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message, ve.Field)
	case errors.As(err, &ae):
		status := http.StatusForbidden
		if ae.Unauthenticated {
			status = http.StatusUnauthorized
		}
		WriteError(w, status, ae.Error())
	case errors.As(err, &ne):
		writeError(w, http.StatusNotFound, ne.Message, ne.Field)
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Message, ce.Field)
	case errors.As(err, &te):
		WriteError(w, http.StatusInternalServerError, te.Message)
	default:
		log.Error().Err(err).Msg("unclassified service error")
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
