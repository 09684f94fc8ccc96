package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist or was deleted.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotDeletable is returned when deleting an order that is not pending.
	ErrNotDeletable = errors.New("order is not deletable")
	// ErrStatusChangedConcurrently is returned when the stored status changed
	// between reading the order and writing the transition.
	ErrStatusChangedConcurrently = errors.New("order status changed concurrently")
	// ErrNotRateable is returned when rating an order that is not delivered.
	ErrNotRateable = errors.New("order cannot be rated")
	// ErrAlreadyRated is returned when the order already has a rating.
	ErrAlreadyRated = errors.New("order already rated")
	// ErrInvalidScore is returned for a rating score outside 1..5.
	ErrInvalidScore = errors.New("score must be between 1 and 5")
	// ErrNotOwner is returned when a buyer acts on another buyer's order.
	ErrNotOwner = errors.New("order belongs to another buyer")
	// ErrAddressNotFound is returned when the delivery address is not one of
	// the buyer's saved addresses.
	ErrAddressNotFound = errors.New("address not found")
	// ErrStorefrontNotFound is returned when the storefront does not exist or
	// is closed.
	ErrStorefrontNotFound = errors.New("storefront not found")
	// ErrNegativeTotal signals a defect in the pricing chain: the computed
	// total fell below zero.
	ErrNegativeTotal = errors.New("order total is negative")
)

// InvalidTransitionError describes a rejected status change.
type InvalidTransitionError struct {
	OrderID int64
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
