package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis list. Tasks are gob-encoded blobs
// pushed to the tail and popped from the head, giving FIFO semantics across
// any number of producer and consumer processes. NotBefore is not honored.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue on the given list key. An empty key defaults
// to "loanflow:tasks".
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "loanflow:tasks"
	}
	return &RedisQueue{client: client, key: key}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		// Short blocking pops so ctx cancellation is noticed promptly.
		res, err := q.client.BLPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}
			return nil, err
		}
		// BLPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		return DecodeTask([]byte(res[1]))
	}
}

func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
