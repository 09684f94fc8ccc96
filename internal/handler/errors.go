package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
	"github.com/xenking/marketplace-orders/internal/domain/coupon"
	"github.com/xenking/marketplace-orders/internal/domain/order"
	idemstore "github.com/xenking/marketplace-orders/internal/storage/redis"
)

type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds is matched top to bottom with errors.Is.
var errorKinds = []errorKind{
	{errMissingBuyer, http.StatusUnauthorized, "unauthenticated"},
	{errBadPath, http.StatusBadRequest, "bad_request"},

	{coupon.ErrRaceLost, http.StatusConflict, "coupon_race_lost"},
	{order.ErrStatusChangedConcurrently, http.StatusConflict, "status_changed_concurrently"},
	{order.ErrAlreadyRated, http.StatusConflict, "already_rated"},
	{idemstore.ErrInFlight, http.StatusConflict, "request_in_progress"},

	{order.ErrNotFound, http.StatusNotFound, "order_not_found"},
	{order.ErrStorefrontNotFound, http.StatusNotFound, "storefront_not_found"},
	{order.ErrNotOwner, http.StatusForbidden, "not_owner"},

	{catalog.ErrEmptyCart, http.StatusUnprocessableEntity, "empty_cart"},
	{catalog.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
	{catalog.ErrItemNotFound, http.StatusUnprocessableEntity, "item_not_found"},
	{catalog.ErrItemNotOwned, http.StatusUnprocessableEntity, "item_not_owned_by_storefront"},
	{catalog.ErrInsufficientStock, http.StatusUnprocessableEntity, "insufficient_stock"},
	{catalog.ErrPriceMismatch, http.StatusUnprocessableEntity, "price_mismatch"},

	{coupon.ErrNotFound, http.StatusUnprocessableEntity, "coupon_not_found"},
	{coupon.ErrInvalid, http.StatusUnprocessableEntity, "coupon_invalid"},
	{coupon.ErrAlreadyUsed, http.StatusUnprocessableEntity, "coupon_already_used"},
	{coupon.ErrNotAssigned, http.StatusUnprocessableEntity, "coupon_not_assigned"},
	{coupon.ErrBelowMinimumPurchase, http.StatusUnprocessableEntity, "coupon_below_minimum_purchase"},

	{order.ErrAddressNotFound, http.StatusUnprocessableEntity, "address_not_found"},
	{order.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{order.ErrNotDeletable, http.StatusUnprocessableEntity, "not_deletable"},
	{order.ErrNotRateable, http.StatusUnprocessableEntity, "not_rateable"},
	{order.ErrInvalidScore, http.StatusUnprocessableEntity, "invalid_score"},
}

func classify(err error) (status int, code string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, "bad_request"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeError maps err to a status and a JSON body. Internal failures are
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal error"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("error")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)

	var lineErr *catalog.LineError
	if errors.As(err, &lineErr) {
		e.FieldStart("line")
		e.Int(lineErr.Index)
		e.FieldStart("item_id")
		e.Int64(lineErr.ItemID)
	}
	var couponErr *coupon.Error
	if errors.As(err, &couponErr) {
		e.FieldStart("coupon_code")
		e.Str(couponErr.Code)
	}
	e.ObjEnd()

	writeJSON(w, status, e.Bytes())
}
