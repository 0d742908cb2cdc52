package kit

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPDecoder extracts the typed request from an HTTP request.
type HTTPDecoder func(*http.Request) (any, error)

// StatusError carries the HTTP status an endpoint error maps to.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

// WithStatus wraps err with an HTTP status.
func WithStatus(code int, err error) error {
	return &StatusError{Code: code, Err: err}
}

// HTTPHandler exposes endpoint over HTTP with JSON responses. Decode
// errors answer 400; endpoint errors answer their StatusError code or 500.
func HTTPHandler(endpoint Endpoint, decode HTTPDecoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTransport(r.Context(), "http")

		var in any
		if decode != nil {
			var err error
			if in, err = decode(r); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
		}
		resp, err := endpoint(ctx, in)
		if err != nil {
			code := http.StatusInternalServerError
			var se *StatusError
			if errors.As(err, &se) {
				code = se.Code
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
