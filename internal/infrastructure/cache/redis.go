package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/perp_scanner/internal/domain"
)

const pingTimeout = 5 * time.Second

// NewRedisClient connects and pings. The caller owns the client.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return client, nil
}

// OrderFlowCache keeps the latest order-flow analysis and a bounded history per symbol,
// so the imbalance trend survives restarts.
type OrderFlowCache struct {
	client   redis.Cmdable
	latest   string
	history  string
	capacity int
	ttl      time.Duration
}

func NewOrderFlowCache(client redis.Cmdable, symbol string, capacity int, ttl time.Duration) *OrderFlowCache {
	return &OrderFlowCache{
		client:   client,
		latest:   fmt.Sprintf("orderflow:%s:latest", symbol),
		history:  fmt.Sprintf("orderflow:%s:history", symbol),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (c *OrderFlowCache) Publish(ctx context.Context, a domain.OrderFlowAnalysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode order flow: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.latest, payload, c.ttl)
	pipe.LPush(ctx, c.history, payload)
	pipe.LTrim(ctx, c.history, 0, int64(c.capacity-1))
	if c.ttl > 0 {
		pipe.Expire(ctx, c.history, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish order flow: %w", err)
	}
	return nil
}

// LoadRecent returns up to n cached analyses, oldest first.
func (c *OrderFlowCache) LoadRecent(ctx context.Context, n int) ([]domain.OrderFlowAnalysis, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := c.client.LRange(ctx, c.history, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("load order flow history: %w", err)
	}

	out := make([]domain.OrderFlowAnalysis, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var a domain.OrderFlowAnalysis
		if err := json.Unmarshal([]byte(raw[i]), &a); err != nil {
			return nil, fmt.Errorf("decode order flow history: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *OrderFlowCache) Latest(ctx context.Context) (domain.OrderFlowAnalysis, error) {
	var a domain.OrderFlowAnalysis
	raw, err := c.client.Get(ctx, c.latest).Bytes()
	if errors.Is(err, redis.Nil) {
		return a, domain.ErrNotFound
	}
	if err != nil {
		return a, fmt.Errorf("load latest order flow: %w", err)
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode latest order flow: %w", err)
	}
	return a, nil
}
