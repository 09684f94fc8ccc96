package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/domain/order"
	idemstore "github.com/xenking/marketplace-orders/internal/storage/redis"
)

func (h *Handler) placeRequest(w http.ResponseWriter, r *http.Request) (order.PlaceOrderRequest, bool) {
	var req order.PlaceOrderRequest

	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return req, false
	}
	storefront, err := pathID(r, "storefrontID")
	if err != nil {
		writeError(w, r, err)
		return req, false
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return req, false
	}
	if req, err = decodePlaceOrder(body); err != nil {
		writeError(w, r, err)
		return req, false
	}
	req.StorefrontID = storefront
	req.BuyerID = buyer
	return req, true
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	req, ok := h.placeRequest(w, r)
	if !ok {
		return
	}
	priced, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodePriced(priced))
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.placeRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	lg := zctx.From(ctx)

	key := r.Header.Get(IdempotencyKeyHeader)
	scope := strconv.FormatInt(req.BuyerID, 10)
	reserved := false
	if key != "" && h.idem != nil {
		replay, err := h.idem.Reserve(ctx, scope, key)
		switch {
		case errors.Is(err, idemstore.ErrInFlight):
			writeError(w, r, err)
			return
		case err != nil:
			// Placement still goes ahead; the key just gives no protection.
			lg.Warn("Idempotency store unavailable", zap.Error(err))
		case replay != nil:
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusCreated, replay)
			return
		default:
			reserved = true
		}
	}

	// The key must be settled even when the client has gone away.
	settleCtx := context.WithoutCancel(ctx)

	result, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		if reserved {
			if rerr := h.idem.Release(settleCtx, scope, key); rerr != nil {
				lg.Warn("Release idempotency key", zap.Error(rerr))
			}
		}
		writeError(w, r, err)
		return
	}

	body := encodePlaced(result)
	if reserved {
		if err := h.idem.Complete(settleCtx, scope, key, body); err != nil {
			lg.Warn("Complete idempotency key", zap.Int64("order_id", result.OrderID), zap.Error(err))
		}
	}
	w.Header().Set("Location", "/api/orders/"+strconv.FormatInt(result.OrderID, 10))
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, err := h.orders.ListByBuyer(r.Context(), buyer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrderList(orders))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Buyers only see their own orders; storefront staff calls carry no
	// buyer header.
	if buyer, err := buyerID(r); err == nil && buyer != o.BuyerID {
		writeError(w, r, order.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeTransition(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Transition(r.Context(), id, req.Status, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	// Same visibility rule as getOrder.
	if buyer, err := buyerID(r); err == nil {
		o, err := h.orders.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if o.BuyerID != buyer {
			writeError(w, r, order.ErrNotFound)
			return
		}
	}
	if err := h.orders.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rate(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "orderID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeRating(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Rate(r.Context(), id, buyer, req.Score, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeOrder(o))
}
