// Package middleware provides the HTTP request pipeline: request identity,
// authentication, permission and authority gates, throttling, and the
// audit hook. Ordering matters and the server wires it as audit hook,
// throttle, authenticator, authorization gates, handler.
package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/staykeeper/gatehouse/pkg/auth"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError maps an error from the gatekeeping taxonomy to its wire
// shape. Unexpected errors become an opaque 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	message := "internal error"
	var e *auth.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	WriteJSON(w, auth.StatusOf(err), errorBody{Code: string(auth.CodeOf(err)), Message: message})
}
