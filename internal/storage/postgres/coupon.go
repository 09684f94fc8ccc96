package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

const (
	findStorefrontCouponSQL = `SELECT c.id, c.storefront_id, c.code, c.kind, c.value, c.min_purchase,
		c.starts_at, c.ends_at, c.usage_limit, c.active,
		(SELECT COUNT(*) FROM coupon_usages u WHERE u.coupon_scope = 'storefront' AND u.coupon_id = c.id)
		FROM storefront_coupons c
		WHERE c.storefront_id = $1 AND UPPER(c.code) = UPPER($2) AND c.deleted_at IS NULL`

	findPlatformCouponSQL = `SELECT c.id, 0, c.code, c.kind, c.value, NULL::NUMERIC,
		c.starts_at, c.ends_at, c.usage_limit, c.active,
		(SELECT COUNT(*) FROM coupon_usages u WHERE u.coupon_scope = 'platform' AND u.coupon_id = c.id)
		FROM platform_coupons c
		WHERE UPPER(c.code) = UPPER($1) AND c.deleted_at IS NULL`

	hasUsageSQL = `SELECT EXISTS (SELECT 1 FROM coupon_usages
		WHERE coupon_scope = $1 AND coupon_id = $2 AND buyer_id = $3)`

	isGrantedSQL = `SELECT EXISTS (SELECT 1 FROM platform_coupon_grants
		WHERE coupon_id = $1 AND buyer_id = $2)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindStorefrontCoupon looks up a storefront's coupon by code
// (case-insensitive). Returns coupon.ErrNotFound when none matches.
func (r *CouponRepository) FindStorefrontCoupon(ctx context.Context, storefrontID int64, code string) (*coupon.Coupon, error) {
	return r.find(ctx, coupon.ScopeStorefront, findStorefrontCouponSQL, storefrontID, code)
}

// FindPlatformCoupon looks up a platform coupon by code (case-insensitive).
func (r *CouponRepository) FindPlatformCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.find(ctx, coupon.ScopePlatform, findPlatformCouponSQL, code)
}

func (r *CouponRepository) find(ctx context.Context, scope coupon.Scope, sql string, args ...any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s coupon", scope)
	}

	c, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (coupon.Coupon, error) {
		return scanCoupon(row, scope)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan %s coupon", scope)
	}
	return &c, nil
}

// HasUsage reports whether the buyer already redeemed the coupon.
func (r *CouponRepository) HasUsage(ctx context.Context, ref coupon.Ref, buyerID int64) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, hasUsageSQL, string(ref.Scope), ref.ID, buyerID).Scan(&used); err != nil {
		return false, errors.Wrapf(err, "check usage of %s", ref)
	}
	return used, nil
}

// IsGranted reports whether the platform coupon was granted to the buyer.
func (r *CouponRepository) IsGranted(ctx context.Context, couponID, buyerID int64) (bool, error) {
	var granted bool
	if err := r.pool.QueryRow(ctx, isGrantedSQL, couponID, buyerID).Scan(&granted); err != nil {
		return false, errors.Wrapf(err, "check grant of coupon %d", couponID)
	}
	return granted, nil
}

func scanCoupon(row pgx.CollectableRow, scope coupon.Scope) (coupon.Coupon, error) {
	var (
		c    coupon.Coupon
		kind string
	)
	err := row.Scan(
		&c.ID, &c.StorefrontID, &c.Code, &kind, &c.Value, &c.MinPurchase,
		&c.StartsAt, &c.EndsAt, &c.UsageLimit, &c.Active, &c.Uses,
	)
	c.Scope = scope
	c.Kind = coupon.Kind(kind)
	return c, err
}
