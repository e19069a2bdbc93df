package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

const popTimeout = time.Second

// RedisReplyQueue реализует очередь задач на базе Redis lists.
// Взятая задача лежит в списке обработки потребителя, пока её не подтвердят:
// key:processing по умолчанию или key:processing:<consumer> после WithConsumer.
type RedisReplyQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.ReplyQueue = (*RedisReplyQueue)(nil)

// NewRedisReplyQueue создаёт очередь по указанному ключу.
func NewRedisReplyQueue(client *redis.Client, key string) *RedisReplyQueue {
	return &RedisReplyQueue{client: client, key: key, processing: key + ":processing"}
}

// WithConsumer возвращает очередь с собственным списком обработки для потребителя id.
// Requeue такой очереди трогает только задачи этого потребителя, поэтому параллельные респондеры
// не забирают друг у друга задачи в работе. id должен переживать перезапуск процесса.
func (q *RedisReplyQueue) WithConsumer(id string) *RedisReplyQueue {
	if id == "" {
		return q
	}
	return &RedisReplyQueue{client: q.client, key: q.key, processing: q.key + ":processing:" + id}
}

// Enqueue публикует задачу в очередь.
func (q *RedisReplyQueue) Enqueue(ctx context.Context, job domain.ReplyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
// ack(true) удаляет задачу, ack(false) возвращает её в очередь.
func (q *RedisReplyQueue) Receive(ctx context.Context) (domain.ReplyJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ReplyJob{}, nil, err
		}
		raw, err := q.client.BRPopLPush(ctx, q.key, q.processing, popTimeout).Result()
		if err != nil {
			if ctx.Err() != nil {
				return domain.ReplyJob{}, nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return domain.ReplyJob{}, nil, fmt.Errorf("%w: %v", domain.ErrQueueClosed, err)
			}
			return domain.ReplyJob{}, nil, err
		}
		var job domain.ReplyJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
			return domain.ReplyJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ackFunc(raw), nil
	}
}

func (q *RedisReplyQueue) ackFunc(raw string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, raw)
		if !success {
			pipe.RPush(ctx, q.key, raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("ack job: %w", err)
		}
		return nil
	}
}

// Requeue возвращает в очередь задачи, зависшие в списке обработки после падения процесса.
// Вызывается при старте, до запуска воркеров этого потребителя.
func (q *RedisReplyQueue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processing, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
