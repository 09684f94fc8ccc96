package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/order"
)

const storefrontFeeSQL = `SELECT delivery_fee FROM storefronts WHERE id = $1 AND active = TRUE`

var _ order.DeliveryFees = (*DeliveryFeeRepository)(nil)

// DeliveryFeeRepository charges each storefront's flat delivery fee
// regardless of the address.
type DeliveryFeeRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryFeeRepository returns a DeliveryFeeRepository that uses the given pool.
func NewDeliveryFeeRepository(pool *pgxpool.Pool) *DeliveryFeeRepository {
	return &DeliveryFeeRepository{pool: pool}
}

// Fee returns the storefront's delivery fee.
func (r *DeliveryFeeRepository) Fee(ctx context.Context, storefrontID, _ int64) (decimal.Decimal, error) {
	var fee decimal.Decimal
	if err := r.pool.QueryRow(ctx, storefrontFeeSQL, storefrontID).Scan(&fee); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, errors.Wrapf(order.ErrStorefrontNotFound, "storefront %d", storefrontID)
		}
		return decimal.Zero, errors.Wrapf(err, "load delivery fee of storefront %d", storefrontID)
	}
	return fee, nil
}
