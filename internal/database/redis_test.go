package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisClient_DegradedAfterFailedHealthCheck(t *testing.T) {
	client := NewRedisDB(&RedisConfig{Host: "127.0.0.1", Port: 1, Timeout: 100 * time.Millisecond}, nil)
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Probe(ctx))

	require.Error(t, client.HealthCheck(ctx))
	assert.True(t, client.IsDegraded())
	assert.ErrorIs(t, client.Probe(ctx), ErrDegraded)

	assert.ErrorIs(t, client.SafeGet(ctx, "k").Err(), ErrDegraded)
	assert.ErrorIs(t, client.SafeSAdd(ctx, "k", "v").Err(), ErrDegraded)
	assert.ErrorIs(t, client.SafeSMembers(ctx, "k").Err(), ErrDegraded)
}
