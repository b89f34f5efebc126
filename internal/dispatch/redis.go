package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/monitron-io/monitron/internal/logging"
)

// Redis is a queue backed by a Redis list, for running the claim loop and
// the workers in separate processes. Ids are LPUSHed by the scheduler and
// BRPOPed by the workers.
type Redis struct {
	client *redis.Client
	key    string
	logger *logging.Logger
}

// NewRedis creates a Redis-backed queue on the given list key.
func NewRedis(client *redis.Client, key string, logger *logging.Logger) *Redis {
	return &Redis{
		client: client,
		key:    key,
		logger: logger.WithComponent(logging.ComponentDispatch),
	}
}

func (r *Redis) Enqueue(ctx context.Context, monitorID int64) error {
	return r.client.LPush(ctx, r.key, monitorID).Err()
}

func (r *Redis) Dequeue(ctx context.Context) (int64, error) {
	for {
		res, err := r.client.BRPop(ctx, time.Second, r.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, err
		}

		// BRPop returns [key, value].
		id, err := strconv.ParseInt(res[1], 10, 64)
		if err != nil {
			r.logger.WithFields(map[string]interface{}{"value": res[1]}).
				Warn("Discarding malformed queue entry")
			continue
		}
		return id, nil
	}
}

func (r *Redis) Depth(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Redis) Transport() string { return "redis" }

func (r *Redis) Close() error {
	return r.client.Close()
}
