package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

const (
	platformCouponIDSQL = `SELECT id FROM platform_coupons
		WHERE UPPER(code) = UPPER($1) AND deleted_at IS NULL`

	insertGrantsSQL = `INSERT INTO platform_coupon_grants (coupon_id, buyer_id)
		SELECT $1, b FROM UNNEST($2::BIGINT[]) AS b
		ON CONFLICT (coupon_id, buyer_id) DO NOTHING`
)

// GrantRepository writes platform coupon allow-lists.
type GrantRepository struct {
	pool *pgxpool.Pool
}

// NewGrantRepository returns a GrantRepository that uses the given pool.
func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// PlatformCouponID resolves a platform coupon code case-insensitively.
func (r *GrantRepository) PlatformCouponID(ctx context.Context, code string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, platformCouponIDSQL, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &coupon.Error{Code: code, Err: coupon.ErrNotFound}
	}
	if err != nil {
		return 0, errors.Wrapf(err, "find platform coupon %q", code)
	}
	return id, nil
}

// Grant adds buyers to the coupon's allow-list and returns how many were
// new. Existing grants are left untouched.
func (r *GrantRepository) Grant(ctx context.Context, couponID int64, buyerIDs []int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, insertGrantsSQL, couponID, buyerIDs)
	if err != nil {
		return 0, errors.Wrapf(err, "grant coupon %d", couponID)
	}
	return tag.RowsAffected(), nil
}
