package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
	"github.com/xenking/marketplace-orders/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (buyer_id, storefront_id, status, payment_method_id,
		subtotal, discount, delivery_fee, total, note,
		coupon_scope, coupon_id, coupon_code, coupon_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	insertLineSQL = `INSERT INTO order_lines (order_id, item_id, quantity, unit_price, line_total, note)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// The snapshot copies the saved address and doubles as the ownership check.
	insertAddressSQL = `INSERT INTO order_addresses (order_id, address_id, line1, city, note)
		SELECT $1, a.id, a.line1, a.city, $4 FROM buyer_addresses a
		WHERE a.id = $2 AND a.buyer_id = $3 AND a.deleted_at IS NULL`

	lockStorefrontCouponSQL = `SELECT usage_limit FROM storefront_coupons
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	lockPlatformCouponSQL = `SELECT usage_limit FROM platform_coupons
		WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`

	countUsagesSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_scope = $1 AND coupon_id = $2`

	insertUsageSQL = `INSERT INTO coupon_usages (coupon_scope, coupon_id, buyer_id, order_id)
		VALUES ($1, $2, $3, $4)`

	insertHistorySQL = `INSERT INTO order_status_history (order_id, status, note) VALUES ($1, $2, $3)`
)

var _ order.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs order placement in a single PostgreSQL transaction.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork returns a UnitOfWork that uses the given pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Do runs fn inside a transaction and commits when it returns nil.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return inTx(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(ctx, &placementTx{tx: tx})
	})
}

var _ order.Tx = (*placementTx)(nil)

type placementTx struct {
	tx pgx.Tx
}

func (t *placementTx) InsertOrder(ctx context.Context, o order.NewOrder) (int64, error) {
	var (
		scope  *string
		id     *int64
		code   *string
		amount decimal.NullDecimal
	)
	if o.Coupon != nil {
		s := string(o.Coupon.Scope)
		scope, id, code = &s, &o.Coupon.ID, &o.Coupon.Code
		amount = decimal.NewNullDecimal(o.Discount)
	}

	var orderID int64
	err := t.tx.QueryRow(ctx, insertOrderSQL,
		o.BuyerID, o.StorefrontID, string(o.Status), o.PaymentMethodID,
		o.Subtotal, o.Discount, o.DeliveryFee, o.Total, o.Note,
		scope, id, code, amount,
	).Scan(&orderID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, errors.Wrapf(order.ErrStorefrontNotFound, "storefront %d", o.StorefrontID)
		}
		return 0, err
	}
	return orderID, nil
}

func (t *placementTx) InsertLine(ctx context.Context, orderID int64, l order.Line) error {
	_, err := t.tx.Exec(ctx, insertLineSQL, orderID, l.ItemID, l.Quantity, l.UnitPrice, l.LineTotal, l.Note)
	return err
}

func (t *placementTx) InsertAddress(ctx context.Context, orderID, buyerID int64, a order.Address) error {
	tag, err := t.tx.Exec(ctx, insertAddressSQL, orderID, a.AddressID, buyerID, a.Note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrAddressNotFound, "address %d", a.AddressID)
	}
	return nil
}

// RedeemCoupon serialises redemptions of one coupon on its row lock and
// re-counts usages under that lock. The unique constraint on
// (scope, coupon, buyer) catches a concurrent redemption by the same buyer.
func (t *placementTx) RedeemCoupon(ctx context.Context, u order.Usage) error {
	lockSQL := lockStorefrontCouponSQL
	if u.Coupon.Scope == coupon.ScopePlatform {
		lockSQL = lockPlatformCouponSQL
	}

	var limit *int64
	if err := t.tx.QueryRow(ctx, lockSQL, u.Coupon.ID).Scan(&limit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(coupon.ErrRaceLost, "%s withdrawn", u.Coupon)
		}
		return errors.Wrap(err, "lock coupon")
	}

	if limit != nil {
		var uses int64
		if err := t.tx.QueryRow(ctx, countUsagesSQL, string(u.Coupon.Scope), u.Coupon.ID).Scan(&uses); err != nil {
			return errors.Wrap(err, "count usages")
		}
		if uses >= *limit {
			return errors.Wrapf(coupon.ErrRaceLost, "%s exhausted", u.Coupon)
		}
	}

	if _, err := t.tx.Exec(ctx, insertUsageSQL, string(u.Coupon.Scope), u.Coupon.ID, u.BuyerID, u.OrderID); err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(coupon.ErrRaceLost, "%s already redeemed by buyer %d", u.Coupon, u.BuyerID)
		}
		return errors.Wrap(err, "insert usage")
	}
	return nil
}

func (t *placementTx) AppendHistory(ctx context.Context, orderID int64, s order.Status, note string) error {
	_, err := t.tx.Exec(ctx, insertHistorySQL, orderID, string(s), note)
	return err
}
