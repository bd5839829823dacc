package server

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/sensorguard/pkg/models"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound         = "https://sensorguard.dev/problems/not-found"
	ProblemTypeBadRequest       = "https://sensorguard.dev/problems/bad-request"
	ProblemTypeInternal         = "https://sensorguard.dev/problems/internal-error"
	ProblemTypeRateLimited      = "https://sensorguard.dev/problems/rate-limited"
	ProblemTypeUnprocessable    = "https://sensorguard.dev/problems/unprocessable"
	ProblemTypeTooManyStreams   = "https://sensorguard.dev/problems/too-many-streams"
	ProblemTypeModelUnavailable = "https://sensorguard.dev/problems/model-unavailable"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem = models.APIProblem

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(w http.ResponseWriter, typ string, status int, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     typ,
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeNotFound, http.StatusNotFound, detail, instance)
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeBadRequest, http.StatusBadRequest, detail, instance)
}

// Unprocessable writes a 422 problem response.
func Unprocessable(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeUnprocessable, http.StatusUnprocessableEntity, detail, instance)
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeInternal, http.StatusInternalServerError, detail, instance)
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeRateLimited, http.StatusTooManyRequests, detail, instance)
}

// TooManyStreams writes a 429 problem response for a full stream registry.
func TooManyStreams(w http.ResponseWriter, detail, instance string) {
	problem(w, ProblemTypeTooManyStreams, http.StatusTooManyRequests, detail, instance)
}

// ModelUnavailable writes a 503 problem response.
func ModelUnavailable(w http.ResponseWriter, instance string) {
	problem(w, ProblemTypeModelUnavailable, http.StatusServiceUnavailable, "model not loaded", instance)
}
