package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the payload shape for every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// FieldError describes a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// DecodeJSON decodes the request body into dest enforcing strict JSON handling.
func DecodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		return err
	}

	if decoder.More() {
		return errors.New("unexpected data after JSON payload")
	}

	return nil
}

// WriteJSON serializes v as JSON with the provided status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a structured error response.
func Error(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// ErrorCode writes a structured error response carrying a machine readable code.
func ErrorCode(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: code})
}

// Unauthorized writes the fixed 401 payload used by every API route.
func Unauthorized(w http.ResponseWriter) {
	ErrorCode(w, http.StatusUnauthorized, "Unauthorized", "AUTH_REQUIRED")
}

// ValidationFailed writes a 422 response listing every rejected field.
func ValidationFailed(w http.ResponseWriter, fields []FieldError) {
	WriteJSON(w, http.StatusUnprocessableEntity, struct {
		Error  string       `json:"error"`
		Code   string       `json:"code"`
		Fields []FieldError `json:"fields"`
	}{Error: "validation failed", Code: "VALIDATION_FAILED", Fields: fields})
}
