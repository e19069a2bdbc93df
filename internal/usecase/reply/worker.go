package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-reply-bot/internal/domain"
)

const receiveBackoff = time.Second

// Processor обрабатывает одну задачу.
type Processor interface {
	Process(ctx context.Context, job domain.ReplyJob) error
}

// Worker читает задачи из очереди и передаёт их обработчику.
type Worker struct {
	queue     domain.ReplyQueue
	processor Processor
	log       zerolog.Logger
}

// NewWorker создаёт воркер очереди.
func NewWorker(queue domain.ReplyQueue, processor Processor, log zerolog.Logger) *Worker {
	return &Worker{queue: queue, processor: processor, log: log}
}

// Run обрабатывает задачи, пока не отменён ctx. После отмены возвращает nil.
// Закрытая очередь останавливает воркер с ошибкой, обёрнутой вокруг domain.ErrQueueClosed.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, domain.ErrQueueClosed) {
				w.log.Error().Err(err).Msg("worker: очередь закрыта, останавливаемся")
				return fmt.Errorf("worker: %w", err)
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(receiveBackoff):
			}
			continue
		}

		jobLog := w.log.With().Str("job", job.ID).Int64("chat", job.ChatID).Logger()
		if job.ID == "" || job.ChatID == 0 {
			jobLog.Error().Msg("worker: некорректная задача, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить некорректную задачу")
			}
			continue
		}

		if err := w.processor.Process(ctx, job); err != nil {
			jobLog.Warn().Err(err).Msg("worker: задача не завершена, вернём в очередь")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}
