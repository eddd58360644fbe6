// Package idempotency filters redelivered journey signals in Valkey before
// they reach the instance store.
package idempotency

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BarkinBalci/engagement-engine/internal/config"
)

const keyPrefix = "signal:"

// Claimer records applied signal ids. A record expires after its TTL.
type Claimer struct {
	client   *redis.Client
	ttl      time.Duration
	failOpen bool
	log      *zap.Logger
}

// NewClaimer connects to Valkey and verifies the connection
func NewClaimer(ctx context.Context, cfg config.Valkey, log *zap.Logger) (*Claimer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	log.Info("Valkey claimer created",
		zap.String("addr", net.JoinHostPort(cfg.Host, cfg.Port)),
		zap.Int("ttl_sec", cfg.IdempotencyTTLSec),
		zap.Bool("fail_open", cfg.IdempotencyFailOpen))

	return NewClaimerWithClient(client, time.Duration(cfg.IdempotencyTTLSec)*time.Second, cfg.IdempotencyFailOpen, log), nil
}

// NewClaimerWithClient wraps an existing client
func NewClaimerWithClient(client *redis.Client, ttl time.Duration, failOpen bool, log *zap.Logger) *Claimer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Claimer{
		client:   client,
		ttl:      ttl,
		failOpen: failOpen,
		log:      log,
	}
}

// Seen reports whether a signal id was recorded within the TTL. When Valkey
// is unreachable and the claimer fails open, every signal is treated as new
// and the instance state decides.
func (c *Claimer) Seen(ctx context.Context, signalID string) (bool, error) {
	n, err := c.client.Exists(ctx, keyPrefix+signalID).Result()
	if err != nil {
		if c.failOpen {
			c.log.Warn("Valkey unavailable, accepting signal",
				zap.String("signal_id", signalID),
				zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("failed to check signal claim: %w", err)
	}
	return n > 0, nil
}

// Record marks a signal id as applied for the TTL
func (c *Claimer) Record(ctx context.Context, signalID string) error {
	if err := c.client.Set(ctx, keyPrefix+signalID, time.Now().UTC().Unix(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to record signal claim: %w", err)
	}
	return nil
}

// Ping checks the Valkey connection
func (c *Claimer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Valkey connection
func (c *Claimer) Close() error {
	return c.client.Close()
}
