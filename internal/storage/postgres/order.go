package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
	"github.com/xenking/marketplace-orders/internal/domain/order"
)

const (
	orderColumns = `id, buyer_id, storefront_id, status, payment_method_id,
		subtotal, discount, delivery_fee, total, note,
		coupon_scope, coupon_id, coupon_code, coupon_amount,
		active, created_at, updated_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND deleted_at IS NULL`

	listOrdersByBuyerSQL = `SELECT o.*, r.buyer_id, r.score, r.comment, r.created_at
		FROM (SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 AND deleted_at IS NULL) o
		LEFT JOIN order_ratings r ON r.order_id = o.id
		ORDER BY o.created_at DESC, o.id DESC`

	getLinesSQL = `SELECT l.item_id, i.name, l.quantity, l.unit_price, l.line_total, l.note
		FROM order_lines l JOIN items i ON i.id = l.item_id
		WHERE l.order_id = $1 ORDER BY l.id`

	getAddressSQL = `SELECT address_id, line1, city, note FROM order_addresses WHERE order_id = $1`

	getHistorySQL = `SELECT status, note, created_at FROM order_status_history
		WHERE order_id = $1 ORDER BY created_at, id`

	getRatingSQL = `SELECT order_id, buyer_id, score, comment, created_at FROM order_ratings
		WHERE order_id = $1`

	updateStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`

	softDeleteSQL = `UPDATE orders SET deleted_at = NOW(), active = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1 AND deleted_at IS NULL)`

	insertRatingSQL = `INSERT INTO order_ratings (order_id, buyer_id, score, comment)
		VALUES ($1, $2, $3, $4)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get loads an order with its lines, address snapshot, status history and
// rating. Reads run in one repeatable-read transaction so the parts agree.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	var o order.Order
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, getOrderSQL, id)
		if err != nil {
			return errors.Wrap(err, "query order")
		}
		o, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "scan order")
		}
		return loadDetails(ctx, tx, &o)
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return &o, nil
}

func loadDetails(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	rows, err := tx.Query(ctx, getLinesSQL, o.ID)
	if err != nil {
		return errors.Wrap(err, "query lines")
	}
	if o.Lines, err = pgx.CollectRows(rows, scanLine); err != nil {
		return errors.Wrap(err, "scan lines")
	}

	var a order.Address
	err = tx.QueryRow(ctx, getAddressSQL, o.ID).Scan(&a.AddressID, &a.Line1, &a.City, &a.Note)
	switch {
	case err == nil:
		o.Address = &a
	case !errors.Is(err, pgx.ErrNoRows):
		return errors.Wrap(err, "query address")
	}

	rows, err = tx.Query(ctx, getHistorySQL, o.ID)
	if err != nil {
		return errors.Wrap(err, "query history")
	}
	if o.History, err = pgx.CollectRows(rows, scanHistory); err != nil {
		return errors.Wrap(err, "scan history")
	}

	var rt order.Rating
	err = tx.QueryRow(ctx, getRatingSQL, o.ID).Scan(&rt.OrderID, &rt.BuyerID, &rt.Score, &rt.Comment, &rt.CreatedAt)
	switch {
	case err == nil:
		o.Rating = &rt
	case !errors.Is(err, pgx.ErrNoRows):
		return errors.Wrap(err, "query rating")
	}
	return nil
}

// ListByBuyer returns the buyer's order headers with their rating, newest
// first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByBuyerSQL, buyerID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of buyer %d", buyerID)
	}
	orders, err := pgx.CollectRows(rows, scanListedOrder)
	if err != nil {
		return nil, errors.Wrapf(err, "scan orders of buyer %d", buyerID)
	}
	return orders, nil
}

// UpdateStatus applies the transition only if the stored status is still
// from, and appends the history row in the same transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to order.Status, note string) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateStatusSQL, id, string(from), string(to))
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if tag.RowsAffected() == 0 {
			return missingOrChanged(ctx, tx, id)
		}
		if _, err := tx.Exec(ctx, insertHistorySQL, id, string(to), note); err != nil {
			return errors.Wrap(err, "append history")
		}
		return nil
	})
}

// SoftDelete marks a pending order deleted.
func (r *OrderRepository) SoftDelete(ctx context.Context, id int64) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, softDeleteSQL, id)
		if err != nil {
			return errors.Wrap(err, "soft delete")
		}
		if tag.RowsAffected() == 0 {
			return missingOrChanged(ctx, tx, id)
		}
		return nil
	})
}

// missingOrChanged explains why a conditional update matched no row.
func missingOrChanged(ctx context.Context, tx pgx.Tx, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusChangedConcurrently
}

// CreateRating stores the rating. The unique order_id constraint turns a
// concurrent second rating into order.ErrAlreadyRated.
func (r *OrderRepository) CreateRating(ctx context.Context, rt order.Rating) error {
	_, err := r.pool.Exec(ctx, insertRatingSQL, rt.OrderID, rt.BuyerID, rt.Score, rt.Comment)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return order.ErrAlreadyRated
	case isForeignKeyViolation(err):
		return order.ErrNotFound
	default:
		return errors.Wrap(err, "insert rating")
	}
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	return scanOrderWith(row)
}

// scanListedOrder reads an order header followed by the nullable columns of
// its rating.
func scanListedOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		raterID *int64
		score   *int
		comment *string
		ratedAt *time.Time
	)
	o, err := scanOrderWith(row, &raterID, &score, &comment, &ratedAt)
	if err != nil {
		return o, err
	}
	if raterID != nil && score != nil {
		o.Rating = &order.Rating{OrderID: o.ID, BuyerID: *raterID, Score: *score}
		if comment != nil {
			o.Rating.Comment = *comment
		}
		if ratedAt != nil {
			o.Rating.CreatedAt = *ratedAt
		}
	}
	return o, nil
}

func scanOrderWith(row pgx.CollectableRow, extra ...any) (order.Order, error) {
	var (
		o            order.Order
		status       string
		couponScope  *string
		couponID     *int64
		couponCode   *string
		couponAmount decimal.NullDecimal
	)
	dest := []any{
		&o.ID, &o.BuyerID, &o.StorefrontID, &status, &o.PaymentMethodID,
		&o.Subtotal, &o.Discount, &o.DeliveryFee, &o.Total, &o.Note,
		&couponScope, &couponID, &couponCode, &couponAmount,
		&o.Active, &o.CreatedAt, &o.UpdatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if couponScope != nil && couponID != nil {
		o.Coupon = &order.AppliedCoupon{
			Ref:    coupon.Ref{Scope: coupon.Scope(*couponScope), ID: *couponID},
			Amount: couponAmount.Decimal,
		}
		if couponCode != nil {
			o.Coupon.Code = *couponCode
		}
	}
	return o, nil
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var l order.Line
	err := row.Scan(&l.ItemID, &l.Name, &l.Quantity, &l.UnitPrice, &l.LineTotal, &l.Note)
	return l, err
}

func scanHistory(row pgx.CollectableRow) (order.HistoryEntry, error) {
	var (
		h      order.HistoryEntry
		status string
	)
	err := row.Scan(&status, &h.Note, &h.CreatedAt)
	h.Status = order.Status(status)
	return h, err
}
