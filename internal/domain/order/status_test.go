package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []Status{
		StatusPending, StatusConfirmed, StatusPreparing,
		StatusOutForDelivery, StatusDelivered, StatusCancelled,
	}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:        true,
		{StatusConfirmed, StatusPreparing}:      true,
		{StatusPreparing, StatusOutForDelivery}: true,
		{StatusOutForDelivery, StatusDelivered}: true,
		{StatusPending, StatusCancelled}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())

	for _, s := range []Status{StatusDelivered, StatusCancelled} {
		_, ok := NextStatus(s)
		assert.False(t, ok, "%s must have no successor", s)
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusOutForDelivery.Valid())
	assert.False(t, Status("shipped").Valid())
	assert.False(t, Status("").Valid())
}
