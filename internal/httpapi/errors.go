package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/you/emojilens/internal/validate"
)

type errorResponse struct {
	Error       string              `json:"error"`
	Status      int                 `json:"status"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Status: status})
}

func writeValidationError(w http.ResponseWriter, errs validate.FieldErrors) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:       "validation failed",
		Status:      http.StatusBadRequest,
		FieldErrors: errs,
	})
}
