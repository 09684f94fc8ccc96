package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-orders/internal/domain/catalog"
	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

// CatalogValidator re-prices cart lines from the live catalog.
type CatalogValidator interface {
	Validate(ctx context.Context, storefrontID int64, lines []catalog.LineRequest) ([]catalog.ValidatedLine, error)
}

// CouponResolver prices a coupon code against a validated subtotal.
type CouponResolver interface {
	Resolve(ctx context.Context, code string, storefrontID, buyerID int64, subtotal decimal.Decimal) (*coupon.Resolved, error)
}

// CartLine is one line of the buyer's cart as submitted.
type CartLine struct {
	ItemID    int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Note      string
}

// PriceRequest holds everything needed to price a cart.
type PriceRequest struct {
	StorefrontID int64
	BuyerID      int64
	Lines        []CartLine
	CouponCode   string
	DeliveryFee  decimal.Decimal
}

// Priced is a validated and priced cart, ready to be written.
type Priced struct {
	StorefrontID int64
	BuyerID      int64
	Lines        []Line
	Coupon       *coupon.Resolved
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	DeliveryFee  decimal.Decimal
	Total        decimal.Decimal
}

// Pricer combines catalog validation and coupon resolution. It never writes.
type Pricer struct {
	catalog CatalogValidator
	coupons CouponResolver
}

// NewPricer creates a Pricer.
func NewPricer(catalog CatalogValidator, coupons CouponResolver) *Pricer {
	return &Pricer{catalog: catalog, coupons: coupons}
}

// Price validates the cart, resolves the coupon against the validated
// subtotal and computes totals. Catalog and coupon errors are returned as-is.
func (p *Pricer) Price(ctx context.Context, req PriceRequest) (*Priced, error) {
	reqs := make([]catalog.LineRequest, len(req.Lines))
	for i, l := range req.Lines {
		reqs[i] = catalog.LineRequest{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}

	validated, err := p.catalog.Validate(ctx, req.StorefrontID, reqs)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, len(validated))
	subtotal := decimal.Zero
	for i, v := range validated {
		lines[i] = Line{
			ItemID:    v.ItemID,
			Name:      v.Name,
			Quantity:  v.Quantity,
			UnitPrice: v.UnitPrice,
			LineTotal: v.LineTotal,
			Note:      req.Lines[i].Note,
		}
		subtotal = subtotal.Add(v.LineTotal)
	}

	priced := &Priced{
		StorefrontID: req.StorefrontID,
		BuyerID:      req.BuyerID,
		Lines:        lines,
		Subtotal:     subtotal.Round(2),
		Discount:     decimal.Zero,
		DeliveryFee:  req.DeliveryFee.Round(2),
	}

	if req.CouponCode != "" {
		resolved, err := p.coupons.Resolve(ctx, req.CouponCode, req.StorefrontID, req.BuyerID, priced.Subtotal)
		if err != nil {
			return nil, err
		}
		priced.Coupon = resolved
		priced.Discount = resolved.Amount.Round(2)
	}

	priced.Total = priced.Subtotal.Sub(priced.Discount).Add(priced.DeliveryFee)
	if priced.Total.IsNegative() {
		zctx.From(ctx).Error("Negative order total",
			zap.Int64("storefront_id", req.StorefrontID),
			zap.Int64("buyer_id", req.BuyerID),
			zap.Stringer("subtotal", priced.Subtotal),
			zap.Stringer("discount", priced.Discount),
			zap.Stringer("delivery_fee", priced.DeliveryFee),
		)
		return nil, errors.Wrapf(ErrNegativeTotal, "total %s", priced.Total)
	}

	return priced, nil
}
