// Package server wires the request gate in front of the CRM API routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lowc1012/crm-gate/internal/config"
	"github.com/lowc1012/crm-gate/internal/log"
	"github.com/lowc1012/crm-gate/internal/metrics"
	"github.com/lowc1012/crm-gate/internal/totp"
	"github.com/lowc1012/crm-gate/pkg/ratelimiter"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the routes need.
type Deps struct {
	Gate       *ratelimiter.Config
	Policies   map[string]ratelimiter.Policy
	Secrets    totp.SecretStore
	Verifier   *totp.Verifier
	TOTPIssuer string
	Notifier   Notifier
	Metrics    *metrics.Metrics
}

type Server struct {
	addr    string
	deps    Deps
	handler http.Handler
}

// New builds the router. Missing policies fall back to the built-in defaults.
func New(addr string, deps Deps) (*Server, error) {
	if deps.Gate == nil || deps.Gate.Resolver == nil || deps.Gate.Limiter == nil {
		return nil, fmt.Errorf("gate resolver and limiter are required")
	}
	if deps.Secrets == nil {
		return nil, fmt.Errorf("totp secret store is required")
	}
	if deps.Verifier == nil {
		deps.Verifier = totp.NewVerifier(nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	policies := config.DefaultPolicies()
	for name, p := range deps.Policies {
		policies[name] = p
	}
	deps.Policies = policies

	s := &Server{addr: addr, deps: deps}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.gate(config.PolicyMe)).Get("/me", s.me)
		r.With(s.gate(config.PolicyTOTPEnroll)).Post("/auth/2fa/enroll", s.enrollTOTP)
		r.With(s.gate(config.PolicyTOTPVerify)).Post("/auth/2fa/verify", s.verifyTOTP)
		r.With(s.gate(config.PolicyEmailSend)).Post("/notifications/email", s.sendEmail)
	})

	return r
}

func (s *Server) gate(policy string) func(http.Handler) http.Handler {
	return ratelimiter.Middleware(s.deps.Gate, s.deps.Policies[policy])
}

// accessLog logs one line per request and counts the response by route pattern.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.deps.Metrics.Response(route, status)

			log.Logger().Info("Served request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr))
		}()

		next.ServeHTTP(ww, r)
	})
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger().Info("Server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		log.Logger().Info("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Logger().Info("Server stopped")
	return nil
}
