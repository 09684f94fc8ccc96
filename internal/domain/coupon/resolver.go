package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Resolver finds the coupon behind a code and prices it for one buyer and
// subtotal. It never records a redemption; the order writer does that in the
// same transaction that creates the order.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// Resolve looks the code up as a storefront coupon first and as a platform
// coupon second, then runs the eligibility checks in order: validity, prior
// use, grant (platform only) and minimum purchase (storefront only).
func (r *Resolver) Resolve(ctx context.Context, code string, storefrontID, buyerID int64, subtotal decimal.Decimal) (*Resolved, error) {
	c, err := r.find(ctx, code, storefrontID)
	if err != nil {
		return nil, err
	}

	if err := c.CheckUsable(r.now()); err != nil {
		return nil, &Error{Code: code, Err: err}
	}

	used, err := r.repo.HasUsage(ctx, c.Ref, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "check coupon usage")
	}
	if used {
		return nil, &Error{Code: code, Err: ErrAlreadyUsed}
	}

	switch c.Scope {
	case ScopePlatform:
		granted, err := r.repo.IsGranted(ctx, c.ID, buyerID)
		if err != nil {
			return nil, errors.Wrap(err, "check coupon grant")
		}
		if !granted {
			return nil, &Error{Code: code, Err: ErrNotAssigned}
		}
	case ScopeStorefront:
		if c.MinPurchase.Valid && subtotal.LessThan(c.MinPurchase.Decimal) {
			return nil, &Error{
				Code: code,
				Err:  errors.Wrapf(ErrBelowMinimumPurchase, "minimum %s", c.MinPurchase.Decimal.StringFixed(2)),
			}
		}
	}

	amount, err := Discount(c.Kind, c.Value, subtotal)
	if err != nil {
		return nil, &Error{Code: code, Err: errors.Wrap(ErrInvalid, err.Error())}
	}

	return &Resolved{
		Ref:    c.Ref,
		Code:   c.Code,
		Kind:   c.Kind,
		Value:  c.Value,
		Amount: amount,
	}, nil
}

func (r *Resolver) find(ctx context.Context, code string, storefrontID int64) (*Coupon, error) {
	c, err := r.repo.FindStorefrontCoupon(ctx, storefrontID, code)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "lookup storefront coupon")
	}

	c, err = r.repo.FindPlatformCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &Error{Code: code, Err: ErrNotFound}
		}
		return nil, errors.Wrap(err, "lookup platform coupon")
	}
	return c, nil
}
