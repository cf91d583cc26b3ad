package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/image2ad/image2ad-api/internal/config"
)

// EventProcessor applies one verified Stripe event.
// *service.BillingService implements it.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// StripeWebhookHandler handles Stripe webhook events.
type StripeWebhookHandler struct {
	cfg       *config.Config
	processor EventProcessor
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler.
func NewStripeWebhookHandler(cfg *config.Config, processor EventProcessor, logger *slog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since the signature covers the exact
// request body bytes.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, sigHeader, h.cfg.StripeWebhookSecret)
	if err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	// Once the signature checks out the event is acknowledged with 200
	// regardless of processing outcome; Stripe retries are handled by
	// the event id and payment id guards, not by our status code
	if err := h.processor.ProcessEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "id", event.ID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}
