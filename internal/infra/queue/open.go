package queue

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tg-reply-bot/internal/domain"
)

// Поддерживаемые бэкенды очереди.
const (
	BackendRedis  = "redis"
	BackendRabbit = "rabbitmq"
)

// Open создаёт очередь задач выбранного бэкенда. Возвращаемая функция закрывает соединения очереди.
func Open(backend string, client *redis.Client, amqpURL, name string, prefetch int) (domain.ReplyQueue, func() error, error) {
	switch backend {
	case "", BackendRedis:
		return NewRedisReplyQueue(client, name), func() error { return nil }, nil
	case BackendRabbit:
		if amqpURL == "" {
			return nil, nil, errors.New("не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := NewRabbitReplyQueue(amqpURL, name, prefetch)
		if err != nil {
			return nil, nil, err
		}
		return q, q.Close, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный бэкенд очереди %q", backend)
	}
}
