package order

import (
	"context"

	"github.com/go-faster/errors"
)

// Lifecycle owns status transitions, deletion and rating of placed orders.
type Lifecycle struct {
	orders Repository
}

// NewLifecycle creates a Lifecycle over the given repository.
func NewLifecycle(orders Repository) *Lifecycle {
	return &Lifecycle{orders: orders}
}

// Transition moves o to next if the lifecycle allows it. The write is
// conditional on o.Status still being current in storage; on success o is
// updated in place.
func (l *Lifecycle) Transition(ctx context.Context, o *Order, next Status, note string) error {
	if !CanTransition(o.Status, next) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: next}
	}
	if err := l.orders.UpdateStatus(ctx, o.ID, o.Status, next, note); err != nil {
		return errors.Wrapf(err, "update order %d status", o.ID)
	}
	o.Status = next
	return nil
}

// Delete soft-deletes a pending order.
func (l *Lifecycle) Delete(ctx context.Context, o *Order) error {
	if o.Status != StatusPending {
		return errors.Wrapf(ErrNotDeletable, "order %d is %s", o.ID, o.Status)
	}
	if err := l.orders.SoftDelete(ctx, o.ID); err != nil {
		return errors.Wrapf(err, "delete order %d", o.ID)
	}
	return nil
}

// CanBeRated reports whether o is delivered and not rated yet.
func CanBeRated(o *Order) bool {
	return o.Status == StatusDelivered && o.Rating == nil
}

// Rate records the buyer's rating of a delivered order.
func (l *Lifecycle) Rate(ctx context.Context, o *Order, buyerID int64, score int, comment string) error {
	if o.BuyerID != buyerID {
		return ErrNotOwner
	}
	if score < 1 || score > 5 {
		return ErrInvalidScore
	}
	if !CanBeRated(o) {
		if o.Rating != nil {
			return ErrAlreadyRated
		}
		return errors.Wrapf(ErrNotRateable, "order %d is %s", o.ID, o.Status)
	}

	r := Rating{
		OrderID: o.ID,
		BuyerID: buyerID,
		Score:   score,
		Comment: comment,
	}
	if err := l.orders.CreateRating(ctx, r); err != nil {
		return errors.Wrapf(err, "rate order %d", o.ID)
	}
	o.Rating = &r
	return nil
}
