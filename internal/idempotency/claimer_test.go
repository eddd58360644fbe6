package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestClaimer_FailOpen(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	claimer := NewClaimerWithClient(client, time.Minute, true, zap.NewNop())

	seen, err := claimer.Seen(context.Background(), "signal-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestClaimer_FailClosed(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	claimer := NewClaimerWithClient(client, time.Minute, false, zap.NewNop())

	seen, err := claimer.Seen(context.Background(), "signal-1")
	assert.Error(t, err)
	assert.False(t, seen)
}

func TestClaimer_RecordUnreachable(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	claimer := NewClaimerWithClient(client, time.Minute, true, zap.NewNop())

	assert.Error(t, claimer.Record(context.Background(), "signal-1"))
}
