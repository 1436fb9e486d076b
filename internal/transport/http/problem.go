package transporthttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"example.com/quakewatch/internal/domain"
)

type Problem struct {
	Type     string              `json:"type,omitempty"`
	Title    string              `json:"title,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
	Meta     map[string]any      `json:"meta,omitempty"`
}

func WriteProblem(w http.ResponseWriter, status int, title, detail string, errs map[string][]string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Errors: errs,
	})
}

// WriteError maps a failure class to its problem response.
func WriteError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", ve.Fields())
	case errors.Is(err, domain.ErrMalformedInput):
		WriteProblem(w, http.StatusBadRequest, "malformed input", err.Error(), nil)
	case errors.Is(err, domain.ErrStorageUnavailable):
		WriteProblem(w, http.StatusServiceUnavailable, "storage unavailable", "audit store not reachable, please retry", nil)
	case errors.Is(err, domain.ErrTransportFailure):
		WriteProblem(w, http.StatusBadGateway, "transport failure", err.Error(), nil)
	default:
		WriteProblem(w, http.StatusInternalServerError, "internal error", err.Error(), nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
