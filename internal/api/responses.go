package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WriteJSON writes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// Pagination is a limit/offset window over a user's note history.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit= (1..100, default 20) and ?offset= (>= 0).
func ParsePagination(r *http.Request) (Pagination, error) {
	q := r.URL.Query()
	p := Pagination{Limit: defaultPageSize}

	limit, err := queryIntIn(q.Get("limit"), "limit", 1, maxPageSize)
	if err != nil {
		return p, err
	}
	if limit != nil {
		p.Limit = *limit
	}

	offset, err := queryIntIn(q.Get("offset"), "offset", 0, -1)
	if err != nil {
		return p, err
	}
	if offset != nil {
		p.Offset = *offset
	}
	return p, nil
}

// queryIntIn parses an optional integer and checks it against [lo, hi].
// hi < 0 means no upper bound. A nil result means the value was absent.
func queryIntIn(raw, name string, lo, hi int) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	if n < lo || (hi >= 0 && n > hi) {
		if hi < 0 {
			return nil, fmt.Errorf("%s must be at least %d", name, lo)
		}
		return nil, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return &n, nil
}

// QueryString returns a trimmed query parameter and whether it was non-empty.
func QueryString(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	return v, v != ""
}

// PathInt64 parses a chi URL parameter such as {id}.
func PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// DecodeJSON decodes a single JSON value from the request body.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("missing request body")
	}
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return errors.New("missing request body")
	case errors.As(err, &tooLarge):
		return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	}
	return err
}
