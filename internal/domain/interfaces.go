package domain

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss возвращается кэшем, если ключа нет.
var ErrCacheMiss = errors.New("cache: miss")

// ErrQueueClosed возвращается очередью, если соединение с ней закрыто и читать больше нечего.
var ErrQueueClosed = errors.New("queue: closed")

// Transport отправляет сообщения в чат.
type Transport interface {
	// Send отправляет текст в заданном режиме разметки. Ошибка разметки оборачивает ErrFormat.
	Send(ctx context.Context, chatID int64, text string, mode RenderMode) error
	// SendTyping показывает индикатор набора текста.
	SendTyping(ctx context.Context, chatID int64) error
}

// Completer получает ответ от языковой модели.
type Completer interface {
	Complete(ctx context.Context, history []ChatTurn, prompt string, images []Image) (string, error)
}

// PhotoFetcher скачивает фото по ссылке Telegram.
type PhotoFetcher interface {
	Fetch(ctx context.Context, ref PhotoRef) (Image, error)
}

// HistoryStore хранит историю диалога.
type HistoryStore interface {
	Load(ctx context.Context, chatID int64) ([]ChatTurn, error)
	Append(ctx context.Context, chatID int64, turns ...ChatTurn) error
	Reset(ctx context.Context, chatID int64) error
}

// ReplyQueue описывает очередь задач на ответ.
type ReplyQueue interface {
	Enqueue(ctx context.Context, job ReplyJob) error
	Receive(ctx context.Context) (ReplyJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// DeliveryJournal сохраняет итоги доставки.
type DeliveryJournal interface {
	RecordDelivery(ctx context.Context, record DeliveryRecord) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}
