package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace-orders/internal/domain/coupon"
)

// InitialNote is recorded with the first history entry of every order.
const InitialNote = "order created"

// NewOrder is the order header written at placement.
type NewOrder struct {
	*Priced
	Status          Status
	PaymentMethodID int64
	Note            string
}

// Usage is a coupon redemption recorded with an order.
type Usage struct {
	Coupon  coupon.Ref
	BuyerID int64
	OrderID int64
}

// Tx is the set of writes available inside a placement transaction.
type Tx interface {
	InsertOrder(ctx context.Context, o NewOrder) (int64, error)
	InsertLine(ctx context.Context, orderID int64, l Line) error
	InsertAddress(ctx context.Context, orderID, buyerID int64, a Address) error
	// RedeemCoupon re-checks the coupon's usage limit under a lock and
	// records the usage. It returns coupon.ErrRaceLost when the limit was
	// exhausted or the buyer already redeemed the coupon concurrently.
	RedeemCoupon(ctx context.Context, u Usage) error
	AppendHistory(ctx context.Context, orderID int64, s Status, note string) error
}

// UnitOfWork runs fn inside one transaction: it commits when fn returns nil
// and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PlaceRequest carries the placement details not covered by pricing.
type PlaceRequest struct {
	AddressID       int64
	AddressNote     string
	PaymentMethodID int64
	Note            string
}

// Writer persists a priced order atomically.
type Writer struct {
	uow UnitOfWork
}

// NewWriter creates a Writer over the given unit of work.
func NewWriter(uow UnitOfWork) *Writer {
	return &Writer{uow: uow}
}

// Place writes the order header, its lines, the address snapshot, the coupon
// usage (if any) and the initial history entry in one transaction and
// returns the new order id. Any failed step aborts the whole placement.
func (w *Writer) Place(ctx context.Context, p *Priced, req PlaceRequest) (int64, error) {
	if p == nil || len(p.Lines) == 0 {
		return 0, errors.New("nothing to place")
	}

	var orderID int64
	err := w.uow.Do(ctx, func(ctx context.Context, tx Tx) error {
		id, err := tx.InsertOrder(ctx, NewOrder{
			Priced:          p,
			Status:          StatusPending,
			PaymentMethodID: req.PaymentMethodID,
			Note:            req.Note,
		})
		if err != nil {
			return errors.Wrap(err, "insert order")
		}

		for i, l := range p.Lines {
			if err := tx.InsertLine(ctx, id, l); err != nil {
				return errors.Wrapf(err, "insert line %d", i)
			}
		}

		if err := tx.InsertAddress(ctx, id, p.BuyerID, Address{
			AddressID: req.AddressID,
			Note:      req.AddressNote,
		}); err != nil {
			return errors.Wrap(err, "insert address")
		}

		if p.Coupon != nil {
			if err := tx.RedeemCoupon(ctx, Usage{
				Coupon:  p.Coupon.Ref,
				BuyerID: p.BuyerID,
				OrderID: id,
			}); err != nil {
				if errors.Is(err, coupon.ErrRaceLost) {
					return &coupon.Error{Code: p.Coupon.Code, Err: err}
				}
				return errors.Wrap(err, "redeem coupon")
			}
		}

		if err := tx.AppendHistory(ctx, id, StatusPending, InitialNote); err != nil {
			return errors.Wrap(err, "append history")
		}

		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return orderID, nil
}
