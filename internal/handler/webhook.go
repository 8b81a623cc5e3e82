package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatform/flow-engine-go/internal/httputil"
	"github.com/chatform/flow-engine-go/internal/model"
)

// EnvelopeRouter dispatches one decoded occurrence. Satisfied by
// engine.Router.
type EnvelopeRouter interface {
	Handle(ctx context.Context, env *model.Envelope) error
}

// WebhookHandler receives canonical envelopes from the messaging
// gateway and hands them to the router. The handler itself stays thin:
// decode, default, dispatch.
type WebhookHandler struct {
	router EnvelopeRouter
}

func NewWebhookHandler(router EnvelopeRouter) *WebhookHandler {
	return &WebhookHandler{router: router}
}

func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var env model.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		log.Warn().Err(err).Msg("invalid webhook request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	if env.Kind == "" {
		env.Kind = model.OccurrenceMessage
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now()
	}
	if env.BotID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing botId"})
		return
	}

	log.Info().
		Str("botId", env.BotID).
		Str("kind", string(env.Kind)).
		Str("phone", env.Phone).
		Str("body", truncate(env.Body, 50)).
		Msg("received webhook")

	if err := h.router.Handle(r.Context(), &env); err != nil {
		log.Error().
			Err(err).
			Str("botId", env.BotID).
			Str("kind", string(env.Kind)).
			Msg("webhook processing failed")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
