package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service"
)

type cartCommand func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error)

// runCommand resolves the caller and cart id, runs cmd and writes the
// resulting snapshot.
func (h *Handler) runCommand(w http.ResponseWriter, r *http.Request, status int, cmd cartCommand) {
	user, err := mustUser(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	snap, err := cmd(r.Context(), cartID(r), user)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, status, newCartView(snap, user))
}

func cartID(r *http.Request) teamcart.CartID {
	return teamcart.CartID(chi.URLParam(r, "cartID"))
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	user, err := mustUser(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	snap, err := h.carts.Create(r.Context(), service.CreateInput{
		RestaurantID: teamcart.RestaurantID(req.RestaurantID),
		HostUserID:   user,
		HostName:     req.HostName,
		Deadline:     req.Deadline,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newCartView(snap, user))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, http.StatusOK, h.carts.Get)
}

func (h *Handler) joinCart(w http.ResponseWriter, r *http.Request) {
	var req joinCartRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.Join(ctx, id, user, req.Name, req.JoinToken)
	})
}

func (h *Handler) leaveCart(w http.ResponseWriter, r *http.Request) {
	user, err := mustUser(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := h.carts.Leave(r.Context(), cartID(r), user); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusCreated, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.AddItem(ctx, id, user, service.AddItemInput{
			MenuItemID:     req.MenuItemID,
			Quantity:       req.Quantity,
			Customizations: req.Customizations,
		})
	})
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	itemID := teamcart.ItemID(chi.URLParam(r, "itemID"))
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.UpdateItemQuantity(ctx, id, user, itemID, req.Quantity)
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	itemID := teamcart.ItemID(chi.URLParam(r, "itemID"))
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.RemoveItem(ctx, id, user, itemID)
	})
}

func (h *Handler) setDeadline(w http.ResponseWriter, r *http.Request) {
	var req deadlineRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.SetDeadline(ctx, id, user, req.Deadline)
	})
}

func (h *Handler) lockCart(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, http.StatusOK, h.carts.LockForPayment)
}

func (h *Handler) applyTip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.ApplyTip(ctx, id, user, req.Amount)
	})
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.ApplyCoupon(ctx, id, user, req.Code)
	})
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, http.StatusOK, h.carts.RemoveCoupon)
}

func (h *Handler) finalizePricing(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, http.StatusOK, h.carts.FinalizePricing)
}

func (h *Handler) commitPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	h.runCommand(w, r, http.StatusOK, func(ctx context.Context, id teamcart.CartID, user teamcart.UserID) (*teamcart.Snapshot, error) {
		return h.carts.CommitToPayment(ctx, id, user, service.CommitInput{
			Method:       req.Method,
			Amount:       req.Amount,
			QuoteVersion: req.QuoteVersion,
		})
	})
}

func (h *Handler) convertCart(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	user, err := mustUser(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	o, err := h.convert.Convert(r.Context(), service.ConvertInput{
		CartID:       cartID(r),
		UserID:       user,
		Address:      req.DeliveryAddress,
		QuoteVersion: req.QuoteVersion,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newOrderView(o))
}
