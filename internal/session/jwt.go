package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultCookieName is the cookie carrying the hosted auth provider's access token.
const DefaultCookieName = "sb-access-token"

var (
	ErrNoSession      = errors.New("no session cookie")
	ErrInvalidSession = errors.New("invalid session token")
)

// JWTResolver turns a session cookie into the id of the signed-in user.
// Tokens are verified either with a shared HS256 secret or with keys from a JWKS endpoint.
type JWTResolver struct {
	cookie   string
	secret   []byte
	jwksURL  string
	cache    *jwk.Cache
	issuer   string
	audience string
	now      func() time.Time
}

type Option func(*JWTResolver)

func WithCookieName(name string) Option {
	return func(r *JWTResolver) {
		if name != "" {
			r.cookie = name
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(r *JWTResolver) { r.issuer = issuer }
}

func WithAudience(audience string) Option {
	return func(r *JWTResolver) { r.audience = audience }
}

func WithClock(now func() time.Time) Option {
	return func(r *JWTResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewHMACResolver verifies HS256 tokens signed with secret.
func NewHMACResolver(secret string, opts ...Option) (*JWTResolver, error) {
	if secret == "" {
		return nil, fmt.Errorf("session jwt secret is required")
	}
	r := newResolver(opts...)
	r.secret = []byte(secret)
	return r, nil
}

// NewJWKSResolver verifies tokens against the key set at jwksURL. The set is cached and
// refreshed in the background until ctx is done.
func NewJWKSResolver(ctx context.Context, jwksURL string, opts ...Option) (*JWTResolver, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("session jwks url is required")
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}

	r := newResolver(opts...)
	r.jwksURL = jwksURL
	r.cache = cache
	return r, nil
}

func newResolver(opts ...Option) *JWTResolver {
	r := &JWTResolver{
		cookie: DefaultCookieName,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CookieName returns the cookie the resolver reads.
func (r *JWTResolver) CookieName() string {
	return r.cookie
}

// ResolveSession returns the subject of a valid session token found in the request cookie.
func (r *JWTResolver) ResolveSession(req *http.Request) (string, error) {
	c, err := req.Cookie(r.cookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", ErrNoSession
	}
	return r.Validate(req.Context(), strings.TrimSpace(c.Value))
}

// Validate verifies a raw token and returns its subject.
func (r *JWTResolver) Validate(ctx context.Context, token string) (string, error) {
	parseOpts := []jwt.ParseOption{
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(r.now)),
	}
	if r.issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(r.audience))
	}

	if r.cache != nil {
		keyset, err := r.cache.Get(ctx, r.jwksURL)
		if err != nil {
			return "", fmt.Errorf("failed to get JWKS: %w", err)
		}
		parseOpts = append(parseOpts, jwt.WithKeySet(keyset))
	} else {
		parseOpts = append(parseOpts, jwt.WithKey(jwa.HS256, r.secret))
	}

	parsed, err := jwt.Parse([]byte(token), parseOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if parsed.Subject() == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	return parsed.Subject(), nil
}
