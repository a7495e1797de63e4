// Package handler exposes the team cart services over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/teamcart/internal/service"
	"github.com/xenking/teamcart/internal/webhook"
	"github.com/xenking/teamcart/pkg/httpmiddleware"
)

// PaymentEvents reconciles verified gateway events.
type PaymentEvents interface {
	Handle(ctx context.Context, ev webhook.Event) (webhook.Outcome, error)
}

// Handler serves the /api routes.
type Handler struct {
	carts    *service.TeamCarts
	convert  *service.Conversion
	gateway  webhook.Gateway
	payments PaymentEvents
}

// New creates a Handler.
func New(carts *service.TeamCarts, convert *service.Conversion, gateway webhook.Gateway, payments PaymentEvents) *Handler {
	return &Handler{
		carts:    carts,
		convert:  convert,
		gateway:  gateway,
		payments: payments,
	}
}

// Router returns the API routes. Cart routes require a bearer token and run
// behind the given middlewares; the payment webhook authenticates by
// signature only.
func (h *Handler) Router(auth *Authenticator, mws ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Post("/webhooks/payments", h.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		for _, mw := range mws {
			r.Use(mw)
		}

		r.Post("/teamcarts", h.createCart)
		r.Route("/teamcarts/{cartID}", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Post("/members", h.joinCart)
			r.Delete("/members/me", h.leaveCart)
			r.Post("/items", h.addItem)
			r.Patch("/items/{itemID}", h.updateItem)
			r.Delete("/items/{itemID}", h.removeItem)
			r.Put("/deadline", h.setDeadline)
			r.Post("/lock", h.lockCart)
			r.Put("/tip", h.applyTip)
			r.Put("/coupon", h.applyCoupon)
			r.Delete("/coupon", h.removeCoupon)
			r.Post("/finalize", h.finalizePricing)
			r.Post("/payments", h.commitPayment)
			r.Post("/convert", h.convertCart)
		})
	})

	return r
}
