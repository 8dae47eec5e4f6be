package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"wastelink-backend/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
)

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.KindExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondAppError writes err with the status of its kind. Internal errors are
// logged with the request id and their detail is not returned.
func RespondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status == http.StatusInternalServerError {
		log.Printf("❌ [%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		RespondError(w, status, "internal server error")
		return
	}
	RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
		"kind":    kind,
	})
}
