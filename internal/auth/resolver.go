package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lowc1012/crm-gate/internal/apikey"
	"github.com/lowc1012/crm-gate/internal/log"
	"github.com/lowc1012/crm-gate/internal/utils"
	"go.uber.org/zap"
)

// DefaultMinAPIKeyLength is the shortest candidate treated as an API key. Shorter values are
// ignored and the session cookie is checked instead.
const DefaultMinAPIKeyLength = 32

// APIKeyLookup finds stored keys by the hash of the raw key.
type APIKeyLookup interface {
	FindByHash(ctx context.Context, hash string) (*apikey.Record, error)
}

// KeyToucher records when a key was last used.
type KeyToucher interface {
	Touch(ctx context.Context, id string, at time.Time) error
}

// SessionResolver returns the user id of a signed-in browser session.
type SessionResolver interface {
	ResolveSession(r *http.Request) (string, error)
}

// ResolveObserver is told how each request was resolved.
type ResolveObserver interface {
	Resolved(kind CredentialKind)
	Rejected(reason string)
}

type nopResolveObserver struct{}

func (nopResolveObserver) Resolved(CredentialKind) {}
func (nopResolveObserver) Rejected(string)         {}

// Resolver identifies the principal behind a request.
type Resolver struct {
	keys      APIKeyLookup
	sessions  SessionResolver
	extractor utils.Extractor
	minLength int
	toucher   KeyToucher
	observer  ResolveObserver
	now       func() time.Time
}

type ResolverOption func(*Resolver)

func WithExtractor(e utils.Extractor) ResolverOption {
	return func(r *Resolver) {
		if e != nil {
			r.extractor = e
		}
	}
}

func WithMinAPIKeyLength(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.minLength = n
		}
	}
}

// WithKeyToucher updates last use of keys after they authenticate. Failures are only logged.
func WithKeyToucher(t KeyToucher) ResolverOption {
	return func(r *Resolver) { r.toucher = t }
}

func WithResolveObserver(o ResolveObserver) ResolverOption {
	return func(r *Resolver) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResolver builds a Resolver. Either dependency may be nil, in which case that path
// never authenticates.
func NewResolver(keys APIKeyLookup, sessions SessionResolver, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		keys:      keys,
		sessions:  sessions,
		minLength: DefaultMinAPIKeyLength,
		observer:  nopResolveObserver{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.extractor == nil {
		r.extractor = utils.NewAPIKeyExtractor(utils.DefaultAPIKeyHeader, r.minLength)
	}
	return r
}

// Resolve returns the principal for req or an error wrapping ErrUnauthorized.
// A candidate long enough to be an API key is decided by the key store alone; if it does not
// match an active key the session cookie is not consulted.
func (r *Resolver) Resolve(req *http.Request) (*Principal, error) {
	if candidate, err := r.extractor.Extract(req); err == nil && len(candidate) >= r.minLength {
		return r.resolveAPIKey(req.Context(), candidate)
	}
	return r.resolveSession(req)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, raw string) (*Principal, error) {
	if r.keys == nil {
		return nil, r.reject("api_key_disabled", nil)
	}

	rec, err := r.keys.FindByHash(ctx, apikey.Hash(raw))
	if err != nil {
		return nil, r.reject("api_key_lookup", err)
	}

	now := r.now()
	if err := rec.CheckActive(now); err != nil {
		return nil, r.reject("api_key_inactive", err)
	}

	if r.toucher != nil {
		if err := r.toucher.Touch(ctx, rec.ID, now); err != nil {
			log.Logger().Warn("Failed to record api key use", zap.String("key_id", rec.ID), zap.Error(err))
		}
	}

	permissions := make([]Capability, 0, len(rec.Permissions))
	for _, p := range rec.Permissions {
		c, err := ParseCapability(p)
		if err != nil {
			log.Logger().Debug("Ignoring unknown api key permission", zap.String("key_id", rec.ID), zap.String("permission", p))
			continue
		}
		permissions = append(permissions, c)
	}

	r.observer.Resolved(CredentialAPIKey)
	return &Principal{
		ID:          rec.UserID,
		Kind:        CredentialAPIKey,
		Permissions: permissions,
		KeyID:       rec.ID,
	}, nil
}

func (r *Resolver) resolveSession(req *http.Request) (*Principal, error) {
	if r.sessions == nil {
		return nil, r.reject("session_disabled", nil)
	}

	userID, err := r.sessions.ResolveSession(req)
	if err != nil {
		return nil, r.reject("session", err)
	}
	if userID == "" {
		return nil, r.reject("session", nil)
	}

	r.observer.Resolved(CredentialSession)
	return &Principal{ID: userID, Kind: CredentialSession}, nil
}

func (r *Resolver) reject(reason string, cause error) error {
	r.observer.Rejected(reason)
	log.Logger().Debug("Credential resolution failed", zap.String("reason", reason), zap.Error(cause))
	if cause == nil {
		return ErrUnauthorized
	}
	return fmt.Errorf("%w: %s: %w", ErrUnauthorized, reason, cause)
}
