package delivery

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"tg-reply-bot/internal/adapters/telegram"
	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// Cascade доставляет один кусок, переходя к более строгому режиму после каждой ошибки разметки.
// Режимы проходятся только вперёд, попыток не больше, чем режимов.
type Cascade struct {
	transport domain.Transport
	log       zerolog.Logger
}

// NewCascade создаёт каскад поверх транспорта.
func NewCascade(transport domain.Transport, log zerolog.Logger) *Cascade {
	return &Cascade{transport: transport, log: log}
}

// Deliver отправляет кусок с номером index. Ошибка, не связанная с разметкой, завершает каскад сразу.
func (c *Cascade) Deliver(ctx context.Context, chatID int64, index int, chunk string) domain.DeliveryOutcome {
	out := domain.DeliveryOutcome{Index: index}
	mode := domain.RenderRich
	for {
		out.Mode = mode
		out.Attempts = append(out.Attempts, mode)
		err := c.transport.Send(ctx, chatID, render(chunk, mode), mode)
		metrics.ObserveDeliveryAttempt(mode.String(), err)
		if err == nil {
			out.Err = nil
			return out
		}
		out.Err = err
		if !errors.Is(err, domain.ErrFormat) {
			c.log.Warn().Err(err).Int64("chat", chatID).Int("chunk", index).Str("mode", mode.String()).Msg("delivery: отправка не удалась")
			return out
		}
		next, ok := mode.Next()
		if !ok {
			c.log.Error().Err(err).Int64("chat", chatID).Int("chunk", index).Msg("delivery: кусок отклонён во всех режимах")
			return out
		}
		c.log.Debug().Err(err).Int64("chat", chatID).Int("chunk", index).Str("mode", mode.String()).Str("next", next.String()).Msg("delivery: ошибка разметки, понижаем режим")
		mode = next
	}
}

// render не допускает пустого текста: если снятие разметки съело всё, уходит исходный кусок.
func render(chunk string, mode domain.RenderMode) string {
	text := telegram.Render(chunk, mode)
	if strings.TrimSpace(text) == "" {
		return chunk
	}
	return text
}
