//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *IdempotencyStore {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	rdb, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return NewIdempotencyStore(rdb, time.Minute)
}

func TestIdempotencyStore(t *testing.T) {
	s := startRedis(t)
	ctx := context.Background()

	replay, err := s.Reserve(ctx, "42", "abc")
	require.NoError(t, err)
	assert.Nil(t, replay)

	_, err = s.Reserve(ctx, "42", "abc")
	require.ErrorIs(t, err, ErrInFlight)

	// Scopes do not collide.
	replay, err = s.Reserve(ctx, "43", "abc")
	require.NoError(t, err)
	assert.Nil(t, replay)

	require.NoError(t, s.Complete(ctx, "42", "abc", []byte(`{"id":7}`)))
	replay, err = s.Reserve(ctx, "42", "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(replay))

	require.NoError(t, s.Release(ctx, "43", "abc"))
	replay, err = s.Reserve(ctx, "43", "abc")
	require.NoError(t, err)
	assert.Nil(t, replay)
}
