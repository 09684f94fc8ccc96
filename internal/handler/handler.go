// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-orders/internal/domain/order"
	"github.com/xenking/marketplace-orders/pkg/httpmiddleware"
)

// IdempotencyKeyHeader lets clients retry order placement safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// OrderService is the domain surface the handler calls.
type OrderService interface {
	Quote(ctx context.Context, req order.PlaceOrderRequest) (*order.Priced, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, id int64) (*order.Order, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]order.Order, error)
	Transition(ctx context.Context, id int64, next order.Status, note string) (*order.Order, error)
	Delete(ctx context.Context, id int64) error
	Rate(ctx context.Context, id, buyerID int64, score int, comment string) (*order.Order, error)
}

// Idempotency remembers the response of order placements by key.
type Idempotency interface {
	Reserve(ctx context.Context, scope, key string) ([]byte, error)
	Complete(ctx context.Context, scope, key string, response []byte) error
	Release(ctx context.Context, scope, key string) error
}

var _ OrderService = (*order.Service)(nil)

// Handler serves the order API.
type Handler struct {
	orders OrderService
	idem   Idempotency
}

// NewHandler creates a Handler. idem may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(orders OrderService, idem Idempotency) *Handler {
	return &Handler{orders: orders, idem: idem}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/storefronts/{storefrontID}/orders", h.placeOrder)
		r.Post("/storefronts/{storefrontID}/quotes", h.quote)

		r.Get("/orders", h.listOrders)
		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.deleteOrder)
			r.Post("/transitions", h.transition)
			r.Post("/rating", h.rate)
		})
	})
}

var (
	errMissingBuyer = errors.New("missing or invalid " + httpmiddleware.BuyerIDHeader + " header")
	errBadPath      = errors.New("malformed path parameter")
)

func buyerID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get(httpmiddleware.BuyerIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingBuyer
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrap(errBadPath, name)
	}
	return id, nil
}
