package http

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"github.com/estudia/material-bot/internal/infrastructure/external/telegram"
	"github.com/estudia/material-bot/pkg/logger"
)

// secretTokenHeader carries the secret registered with setWebhook.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every registered check and the pool details.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleReady handles the readiness endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Healthy {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// handleTelegramWebhook handles POST /webhook/telegram.
// Accepted updates are queued and acknowledged at once so Telegram never
// waits on a conversation turn.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if secret := s.config.WebhookSecret; secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			s.logger.Warn("invalid webhook secret", logger.String("remote", r.RemoteAddr))
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid webhook secret")
			return
		}
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to read request body")
		return
	}

	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Warn("failed to parse webhook payload", logger.Err(err))
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload")
		return
	}

	s.logger.Debug("received telegram webhook",
		logger.Int64("update_id", update.UpdateID),
		logger.Bool("has_message", update.Message != nil),
		logger.Bool("has_callback", update.CallbackQuery != nil),
	)
	s.deps.Updates.Dispatch(&update)

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
