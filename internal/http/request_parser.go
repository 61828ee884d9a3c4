package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"kakeibo/internal/core"
)

// HeaderUserID carries the caller's id, set by the authenticating proxy.
const HeaderUserID = "X-User-ID"

const maxBodyBytes = 1 << 20

// UserID returns the trusted caller id or ErrUnauthorized.
func UserID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", ErrUnauthorized
	}
	return id, nil
}

// DecodeJSON reads a single JSON object into dst. Unknown fields are
// rejected so typos do not silently keep old values on PATCH.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return WithMessage(ErrInvalidInput, "Request body is empty")
		}
		return Wrap(WithMessage(ErrInvalidInput, "Malformed JSON: "+err.Error()), err)
	}
	if dec.More() {
		return WithMessage(ErrInvalidInput, "Request body must hold a single JSON object")
	}
	return nil
}

// ParsePage reads limit and offset. Missing values use the defaults; bad
// numbers are a validation error.
func ParsePage(query url.Values) (core.Page, error) {
	var page core.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		v := strings.TrimSpace(query.Get(p.name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return core.Page{}, core.Invalid(p.name, fmt.Sprintf("%q is not a number", v))
		}
		*p.dst = n
	}
	return page, nil
}

// ParseMonth returns the month query value. Empty means the current month.
func ParseMonth(query url.Values) string {
	return strings.TrimSpace(query.Get("month"))
}
