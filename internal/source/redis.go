// Package source delivers raw frame observations from the radio gateway.
// The gateway pushes each received frame onto a Redis list; workers lease
// items through a processing list so a crashed worker's frames get retried.
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Observation is one frame as the gateway heard it: the raw frame hex, the
// gateway's own routing string and sender key if it decoded them, and the
// receive timestamp.
type Observation struct {
	RawHex     string `json:"raw_hex"`
	PathString string `json:"path,omitempty"`
	SenderKey  string `json:"sender,omitempty"`
	TS         int64  `json:"ts"`
}

// At returns the receive time, falling back to now for legacy items
// without a timestamp.
func (o Observation) At() time.Time {
	if o.TS == 0 {
		return time.Now().UTC()
	}
	return time.Unix(o.TS, 0).UTC()
}

type RedisQueue struct {
	cli      *redis.Client
	queueKey string
	procKey  string
	leaseTTL time.Duration
}

func NewRedis(addr, key string, lease time.Duration) (*RedisQueue, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisQueue{cli: cli, queueKey: key, procKey: key + ":processing", leaseTTL: lease}, nil
}

// Ping exposes connectivity for health checks.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.cli.Ping(ctx).Err()
}

// Lease pops one observation. A zero-value Observation with a nil-error ack
// means the queue was empty for the poll interval.
func (q *RedisQueue) Lease(ctx context.Context) (Observation, func() error, error) {
	res, err := q.cli.BRPopLPush(ctx, q.queueKey, q.procKey, 5*time.Second).Result()
	if err == redis.Nil {
		return Observation{}, func() error { return nil }, nil
	}
	if err != nil {
		return Observation{}, func() error { return err }, err
	}
	var obs Observation
	if err := json.Unmarshal([]byte(res), &obs); err != nil {
		// poison item: ack it away so it doesn't wedge the queue
		_ = q.cli.LRem(ctx, q.procKey, 1, res).Err()
		return Observation{}, func() error { return nil }, err
	}
	ack := func() error {
		return q.cli.LRem(ctx, q.procKey, 1, res).Err()
	}
	return obs, ack, nil
}

// Seed pushes an observation into the queue.
func (q *RedisQueue) Seed(ctx context.Context, obs Observation) error {
	if obs.TS == 0 {
		obs.TS = time.Now().UTC().Unix()
	}
	b, _ := json.Marshal(obs)
	return q.cli.LPush(ctx, q.queueKey, string(b)).Err()
}
