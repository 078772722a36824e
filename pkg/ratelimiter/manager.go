package ratelimiter

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/internal/log"
	limiter "github.com/lowc1012/crm-gate/rate_limiter"
	"go.uber.org/zap"
)

type State int64

const (
	Deny State = iota
	Allow
)

var (
	stateStrings = map[State]string{
		Allow: "Allow",
		Deny:  "Deny",
	}
)

const (
	rateLimitMaxRequests = "X-Ratelimit-Max-Requests"
	rateLimitState       = "X-Ratelimit-State"
	retryAfter           = "Retry-After"
)

// Policy is the limit and permission attached to a route.
type Policy struct {
	Name        string
	Feature     string
	MaxRequests int64
	Window      time.Duration
	Capability  auth.Capability
}

// Resolver identifies the caller of a request.
type Resolver interface {
	Resolve(r *http.Request) (*auth.Principal, error)
}

// RateLimiter admits or denies one attempt for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) bool
}

// Config defines the configuration for the gate handler.
type Config struct {
	Resolver Resolver
	Limiter  RateLimiter
}

type httpGateHandler struct {
	handler http.Handler
	config  *Config
	policy  Policy
}

// NewHTTPGateHandler wraps an existing http.Handler with the request gate for policy.
// When the gate rejects a request it writes the response itself and the wrapped handler is not called.
func NewHTTPGateHandler(originalHandler http.Handler, config *Config, policy Policy) http.Handler {
	if policy.Feature == "" {
		policy.Feature = policy.Name
	}
	return &httpGateHandler{
		handler: originalHandler,
		config:  config,
		policy:  policy,
	}
}

// Middleware is NewHTTPGateHandler in the func(http.Handler) http.Handler form routers expect.
func Middleware(config *Config, policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPGateHandler(next, config, policy)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(writer http.ResponseWriter, status int, code string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(errorBody{Error: code}); err != nil {
		log.Logger().Debug("Failed to write error body", zap.Error(err))
	}
}

// WriteError maps the gate's sentinel errors to their HTTP status.
func WriteError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(writer, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(writer, http.StatusForbidden, "forbidden")
	case errors.Is(err, limiter.ErrRateLimited):
		writeError(writer, http.StatusTooManyRequests, "rate_limited")
	default:
		writeError(writer, http.StatusInternalServerError, "internal_error")
	}
}

// RetryAfterSeconds rounds window up to whole seconds, never below one.
func RetryAfterSeconds(window time.Duration) int64 {
	seconds := int64(math.Ceil(window.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (h *httpGateHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	principal, err := h.config.Resolver.Resolve(request)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthorized) {
			log.Logger().Error("Failed to resolve credentials", zap.String("policy", h.policy.Name), zap.Error(err))
		}
		WriteError(writer, err)
		return
	}

	key := limiter.Key(h.policy.Feature, principal.ID)
	allowed := h.config.Limiter.Allow(request.Context(), key, h.policy.MaxRequests, h.policy.Window)

	state := Deny
	if allowed {
		state = Allow
	}

	// set the rate limiting headers both on allow or deny results so the client knows what is going on
	writer.Header().Set(rateLimitMaxRequests, strconv.FormatInt(h.policy.MaxRequests, 10))
	writer.Header().Set(rateLimitState, stateStrings[state])

	if state == Deny {
		writer.Header().Set(retryAfter, strconv.FormatInt(RetryAfterSeconds(h.policy.Window), 10))
		WriteError(writer, limiter.ErrRateLimited)
		return
	}

	if h.policy.Capability != "" {
		if err := auth.Require(principal, h.policy.Capability); err != nil {
			WriteError(writer, err)
			return
		}
	}

	h.handler.ServeHTTP(writer, request.WithContext(auth.ContextWithPrincipal(request.Context(), principal)))
}
