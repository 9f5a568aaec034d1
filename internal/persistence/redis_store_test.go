package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lendr/loanflow/internal/testutil"
)

var redisPrefixCounter atomic.Int64

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	addr := testutil.GetRedisAddress(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	runStoreSuite(t, func(t *testing.T) (InstanceStore, EventStore) {
		prefix := fmt.Sprintf("loanflow_test_%d:", redisPrefixCounter.Add(1))
		return NewRedisInstanceStore(client, prefix), NewRedisEventStore(client, prefix)
	})
}

func TestRedisStorePrefixIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	addr := testutil.GetRedisAddress(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisInstanceStore(client, "iso_a:")
	b := NewRedisInstanceStore(client, "iso_b:")

	ctx := context.Background()
	require.NoError(t, a.CreateInstance(ctx, sampleInstance("shared-id")))

	_, err := b.GetInstance(ctx, "shared-id")
	require.Error(t, err, "prefixes must not see each other's instances")
}
