package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// RabbitReplyQueue реализует очередь задач через AMQP.
type RabbitReplyQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	consumeOnce sync.Once
	deliveries  <-chan amqp.Delivery
	consumeErr  error
}

var _ domain.ReplyQueue = (*RabbitReplyQueue)(nil)

// NewRabbitReplyQueue подключается к брокеру и объявляет долговечную очередь.
// prefetch ограничивает число неподтверждённых задач на одного потребителя.
func NewRabbitReplyQueue(amqpURL, queue string, prefetch int) (*RabbitReplyQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitReplyQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitReplyQueue) Enqueue(ctx context.Context, job domain.ReplyJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт задачу. ack(true) подтверждает её, ack(false) возвращает в очередь.
func (q *RabbitReplyQueue) Receive(ctx context.Context) (domain.ReplyJob, domain.AckFunc, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.ch.Consume(q.queue, "", false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return domain.ReplyJob{}, nil, fmt.Errorf("consume: %w", q.consumeErr)
	}
	select {
	case <-ctx.Done():
		return domain.ReplyJob{}, nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return domain.ReplyJob{}, nil, domain.ErrQueueClosed
		}
		var job domain.ReplyJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Reject(false)
			return domain.ReplyJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, deliveryAck(d), nil
	}
}

func deliveryAck(d amqp.Delivery) domain.AckFunc {
	return func(success bool) error {
		if success {
			return d.Ack(false)
		}
		return d.Nack(false, true)
	}
}

// Close закрывает канал и соединение.
func (q *RabbitReplyQueue) Close() error {
	chErr := q.ch.Close()
	if err := q.conn.Close(); err != nil {
		return err
	}
	return chErr
}
