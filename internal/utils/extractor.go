package utils

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultAPIKeyHeader is the custom header checked before the Authorization header.
const DefaultAPIKeyHeader = "X-API-Key"

// ErrNoCredential is returned when the request carries no API key candidate.
var ErrNoCredential = errors.New("no credential in request")

// Extractor represents the way we will extract a credential candidate from an HTTP request. It only
// looks at headers and never reads the body of the request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

type httpHeaderExtractor struct {
	headers []string
}

// NewHTTPHeadersExtractor returns the first non-empty value among headers, in order.
func NewHTTPHeadersExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	for _, key := range h.headers {
		if value := strings.TrimSpace(r.Header.Get(key)); value != "" {
			return value, nil
		}
	}
	return "", ErrNoCredential
}

type apiKeyExtractor struct {
	header    Extractor
	minLength int
}

// NewAPIKeyExtractor reads the custom header first and falls back to "Authorization: Bearer <key>".
// A header value shorter than minLength does not hide a bearer token.
func NewAPIKeyExtractor(header string, minLength int) Extractor {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &apiKeyExtractor{header: NewHTTPHeadersExtractor(header), minLength: minLength}
}

func (e *apiKeyExtractor) Extract(r *http.Request) (string, error) {
	value, err := e.header.Extract(r)
	if err == nil && len(value) >= e.minLength {
		return value, nil
	}

	if token, ok := bearerToken(r); ok {
		return token, nil
	}
	if err == nil {
		return value, nil
	}
	return "", ErrNoCredential
}

// bearerToken reads the Authorization header. The scheme is case-insensitive, anything other
// than Bearer is ignored.
func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", false
	}
	return token, true
}
