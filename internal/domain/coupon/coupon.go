package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Scope discriminates storefront-issued coupons from platform-wide ones.
type Scope string

const (
	// ScopeStorefront coupons are issued by one storefront and only apply to
	// purchases from it.
	ScopeStorefront Scope = "storefront"
	// ScopePlatform coupons are issued by the marketplace operator, carry a
	// mandatory usage limit and must be granted to a buyer before use.
	ScopePlatform Scope = "platform"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage of the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount, capped at the subtotal.
	KindFixed Kind = "fixed"
)

var (
	// ErrNotFound is returned when no coupon matches the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalid is returned when a coupon is inactive, outside its validity
	// window or has exhausted its usage limit.
	ErrInvalid = errors.New("coupon is not valid")
	// ErrAlreadyUsed is returned when the buyer has already redeemed the coupon.
	ErrAlreadyUsed = errors.New("coupon already used")
	// ErrNotAssigned is returned when a platform coupon was never granted to the buyer.
	ErrNotAssigned = errors.New("coupon not assigned to buyer")
	// ErrBelowMinimumPurchase is returned when the subtotal does not reach the
	// coupon's minimum purchase threshold.
	ErrBelowMinimumPurchase = errors.New("purchase below coupon minimum")
	// ErrRaceLost is returned when a concurrent redemption consumed the coupon
	// between resolution and order persistence.
	ErrRaceLost = errors.New("coupon redeemed concurrently")
)

// Ref identifies a coupon across both scopes.
type Ref struct {
	Scope Scope
	ID    int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Scope, r.ID)
}

// Coupon is a storefront or platform coupon. StorefrontID and MinPurchase
// are only meaningful for storefront coupons; UsageLimit is always set for
// platform coupons.
type Coupon struct {
	Ref
	StorefrontID int64
	Code         string
	Kind         Kind
	Value        decimal.Decimal
	MinPurchase  decimal.NullDecimal
	StartsAt     time.Time
	EndsAt       time.Time
	UsageLimit   *int64
	Active       bool
	// Uses is the number of usage records, counted at load time.
	Uses int64
}

// CheckUsable reports ErrInvalid when the coupon cannot be redeemed by
// anyone at the given instant.
func (c *Coupon) CheckUsable(now time.Time) error {
	switch {
	case !c.Active:
		return errors.Wrap(ErrInvalid, "inactive")
	case now.Before(c.StartsAt):
		return errors.Wrap(ErrInvalid, "not started yet")
	case now.After(c.EndsAt):
		return errors.Wrap(ErrInvalid, "expired")
	case c.UsageLimit != nil && c.Uses >= *c.UsageLimit:
		return errors.Wrap(ErrInvalid, "usage limit reached")
	}
	if err := checkValue(c.Kind, c.Value); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

// Error decorates a coupon failure with the code the buyer entered.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Ref
	Code   string
	Kind   Kind
	Value  decimal.Decimal
	Amount decimal.Decimal
}

// Repository is the single storage boundary for coupon lookups. Find methods
// never return soft-deleted coupons and fill Uses from the usage records.
type Repository interface {
	FindStorefrontCoupon(ctx context.Context, storefrontID int64, code string) (*Coupon, error)
	FindPlatformCoupon(ctx context.Context, code string) (*Coupon, error)
	HasUsage(ctx context.Context, ref Ref, buyerID int64) (bool, error)
	IsGranted(ctx context.Context, couponID, buyerID int64) (bool, error)
}
