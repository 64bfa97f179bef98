package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{Code: code, Message: message},
	})
}

// RenderError maps an error to the canonical error shape. AppErrors carry
// their own status and public fields; anything else renders as a generic
// internal error so wrapped detail never leaks to clients.
func RenderError(w http.ResponseWriter, err error) {
	var app *AppError
	if errors.As(err, &app) {
		status := app.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, app.Code, app.Message)
		return
	}
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
