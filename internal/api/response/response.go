// Package response writes the JSON envelopes shared by every endpoint:
// {"data": ...}, {"data": [...], "meta": {...}} and {"error": {...}}.
package response

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the error envelope.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeValidation       = "VALIDATION_ERROR"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeNotReady         = "NOT_READY"
	CodeDuplicateJob     = "DUPLICATE_JOB"
	CodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	CodeDegraded         = "DEGRADED"
	CodeNotImplemented   = "NOT_IMPLEMENTED"
	CodeInternal         = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewPaginationMeta derives HasNext from the page window and total.
func NewPaginationMeta(page, limit, total int) PaginationMeta {
	return PaginationMeta{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: page*limit < total,
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

// Invalid writes a 400 validation error naming each rejected field.
func Invalid(w http.ResponseWriter, message string, fields map[string]string) {
	var details any
	if len(fields) > 0 {
		details = fields
	}
	Error(w, http.StatusBadRequest, CodeValidation, message, details)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
