package queue

import (
	"context"
	"errors"
	"time"

	r "github.com/redis/go-redis/v9"
)

// Redis implements Queue over Redis lists: LPush producers, BRPop consumers,
// which gives FIFO per list.
type Redis struct {
	rdb *r.Client
}

// NewRedis wraps an existing client.
func NewRedis(rdb *r.Client) *Redis { return &Redis{rdb: rdb} }

// Push implements Queue.
func (q *Redis) Push(ctx context.Context, list, value string) error {
	return q.rdb.LPush(ctx, list, value).Err()
}

// Pop implements Queue. A zero timeout pops without blocking; a BRPop
// timeout surfaces as ok=false, nil error either way.
func (q *Redis) Pop(ctx context.Context, list string, timeout time.Duration) (string, bool, error) {
	if timeout <= 0 {
		val, err := q.rdb.RPop(ctx, list).Result()
		if err != nil {
			if errors.Is(err, r.Nil) {
				return "", false, nil
			}
			return "", false, err
		}
		return val, true, nil
	}
	res, err := q.rdb.BRPop(ctx, timeout, list).Result()
	if err != nil {
		if errors.Is(err, r.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	// BRPop returns [list, value].
	if len(res) != 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// Len implements Queue.
func (q *Redis) Len(ctx context.Context, list string) (int64, error) {
	return q.rdb.LLen(ctx, list).Result()
}
