package common

import (
	"encoding/json"
	"errors"
	"net/http"
)

// ErrorBody is the "error" member of every failure response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// JSON writes v with status. v is marshalled before the header goes out so an
// unencodable value becomes a clean 500 instead of a truncated 200.
func JSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorEnvelope{ErrorBody{Code: CodeInternal, Message: "internal error"}})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// JSONError writes {"error": {...}}.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, errorEnvelope{ErrorBody{Code: code, Message: message, Details: details}})
}

// WriteError renders err. Anything that is not an AppError is reported as a
// bare 500 so internal messages never reach the browser.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
		return
	}
	body := ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	status := appErr.HTTPStatus
	if status == 0 || body.Code == "" {
		status, body.Code = http.StatusInternalServerError, CodeInternal
	}
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}
	var syntaxErr *json.SyntaxError
	if body.Details == nil && errors.As(appErr.Err, &syntaxErr) {
		body.Details = map[string]any{"offset": syntaxErr.Offset}
	}
	JSON(w, status, errorEnvelope{body})
}
