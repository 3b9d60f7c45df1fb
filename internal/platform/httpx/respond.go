// Package httpx writes JSON bodies and RFC7807 problem responses.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps request bodies decoded by DecodeJSON.
const DefaultBodyLimit int64 = 1 << 20

// ProblemDetail is an RFC7807 problem body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, "application/json", status, data)
}

// Problem writes an application/problem+json response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, "application/problem+json", status, ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func write(w http.ResponseWriter, contentType string, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads exactly one JSON value of at most limit bytes into target.
// A non-positive limit means DefaultBodyLimit.
func DecodeJSON(w http.ResponseWriter, r *http.Request, target any, limit int64) error {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("httpx: decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("httpx: body must hold a single JSON value")
	}
	return nil
}
