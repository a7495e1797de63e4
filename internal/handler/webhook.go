package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/teamcart/internal/webhook"
)

// HeaderSignature carries the gateway signature of a webhook body.
const HeaderSignature = "Payment-Signature"

type webhookResponse struct {
	Outcome webhook.Outcome `json:"outcome"`
}

// paymentWebhook verifies and reconciles one gateway delivery. A 2xx tells
// the gateway to stop retrying, so malformed payloads are acknowledged and
// only transient failures return 5xx.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	ev, err := h.gateway.ConstructEvent(payload, r.Header.Get(HeaderSignature))
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		lg.Warn("Webhook signature rejected", zap.Error(err))
		writeErrorCode(w, http.StatusBadRequest, "invalid_signature", "invalid signature")
		return
	case errors.Is(err, webhook.ErrMalformedPayload):
		lg.Warn("Malformed webhook payload", zap.Error(err))
		respondJSON(w, http.StatusOK, webhookResponse{Outcome: webhook.OutcomeIgnored})
		return
	case err != nil:
		respondError(w, r, err)
		return
	}

	outcome, err := h.payments.Handle(r.Context(), ev)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, webhookResponse{Outcome: outcome})
}
