// Package httputil provides response helpers shared by handlers and
// middleware.
package httputil

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

// WriteError maps err to its HTTP status and writes the error body. Foreign
// errors are reported as INTERNAL without leaking their message.
func WriteError(w http.ResponseWriter, err error) {
	se := svcerr.GetServiceError(err)
	if se == nil {
		se = svcerr.Internal("internal error", err)
	}

	var body ErrorBody
	body.Error.Code = string(se.Code)
	body.Error.Message = se.Message
	body.Error.Details = se.Details
	WriteJSON(w, se.HTTPStatus, body)
}

// ClientIP returns the originating client address, honouring the first entry
// of X-Forwarded-For when a proxy injected it.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
