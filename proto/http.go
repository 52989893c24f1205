package proto

import (
	"encoding/json"
	"errors"
	"net/http"
)

type errorPayload struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Cause   string `json:"cause,omitempty"`
	Status  int    `json:"status"`
}

// RespondWithError writes err as a JSON error body with its classified HTTP status.
func RespondWithError(w http.ResponseWriter, err error) {
	var e Error
	if !errors.As(err, &e) {
		e = Error{Name: "Internal", Message: err.Error(), HTTPStatus: http.StatusInternalServerError}
	}
	payload := errorPayload{
		Error:   e.Name,
		Code:    e.Code,
		Message: e.Message,
		Status:  HTTPStatus(e),
	}
	if cause := e.Unwrap(); cause != nil {
		payload.Cause = cause.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(payload.Status)
	_ = json.NewEncoder(w).Encode(payload)
}

// RespondWithJSON writes v as a JSON body with the given status.
func RespondWithJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
