package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lowc1012/crm-gate/internal/auth"
	"github.com/lowc1012/crm-gate/internal/log"
	"github.com/lowc1012/crm-gate/internal/totp"
	"github.com/lowc1012/crm-gate/pkg/ratelimiter"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// EmailRequest is the body of POST /api/v1/notifications/email.
type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Notifier hands an outgoing email to a delivery provider.
type Notifier func(ctx context.Context, userID string, msg EmailRequest) error

// LogNotifier only logs the message; it is the default when no provider is wired.
func LogNotifier(_ context.Context, userID string, msg EmailRequest) error {
	log.Logger().Info("Email notification accepted",
		zap.String("user_id", userID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

type verifyRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger().Debug("Failed to write response body", zap.Error(err))
	}
}

func writeStatus(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		ratelimiter.WriteError(w, auth.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// enrollTOTP creates a new second-factor secret. Only browser sessions may enroll.
func (s *Server) enrollTOTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		ratelimiter.WriteError(w, auth.ErrUnauthorized)
		return
	}
	if p.Kind != auth.CredentialSession {
		ratelimiter.WriteError(w, auth.ErrForbidden)
		return
	}

	enrollment, err := totp.Enroll(s.deps.TOTPIssuer, p.ID)
	if err != nil {
		log.Logger().Error("Failed to generate totp secret", zap.String("user_id", p.ID), zap.Error(err))
		ratelimiter.WriteError(w, err)
		return
	}
	if err := s.deps.Secrets.Put(r.Context(), p.ID, enrollment.Secret); err != nil {
		log.Logger().Error("Failed to store totp secret", zap.String("user_id", p.ID), zap.Error(err))
		ratelimiter.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, enrollment)
}

func (s *Server) verifyTOTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		ratelimiter.WriteError(w, auth.ErrUnauthorized)
		return
	}

	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_body")
		return
	}

	secret, err := s.deps.Secrets.Get(r.Context(), p.ID)
	if errors.Is(err, totp.ErrSecretNotFound) {
		writeStatus(w, http.StatusNotFound, "totp_not_enrolled")
		return
	}
	if err != nil {
		log.Logger().Error("Failed to load totp secret", zap.String("user_id", p.ID), zap.Error(err))
		ratelimiter.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Valid: s.deps.Verifier.Verify(secret, req.Code)})
}

func (s *Server) sendEmail(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		ratelimiter.WriteError(w, auth.ErrUnauthorized)
		return
	}

	var req EmailRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if strings.TrimSpace(req.To) == "" || !strings.Contains(req.To, "@") {
		writeStatus(w, http.StatusBadRequest, "invalid_recipient")
		return
	}

	if err := s.deps.Notifier(r.Context(), p.ID, req); err != nil {
		log.Logger().Error("Failed to hand off email", zap.String("user_id", p.ID), zap.Error(err))
		ratelimiter.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
