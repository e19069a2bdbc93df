package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-reply-bot/internal/adapters/telegram"
	"tg-reply-bot/internal/domain"
)

// ErrEmptyMessage возвращается, если после нормализации текст пуст.
var ErrEmptyMessage = errors.New("пустое сообщение")

// Config задаёт лимит длины куска и паузу между кусками.
type Config struct {
	MaxLength int
	Pace      time.Duration
}

// Service доставляет произвольно длинный ответ: нормализация, нарезка, доставка по кускам.
type Service struct {
	coordinator *Coordinator
	maxLength   int
	log         zerolog.Logger
}

// NewService создаёт сервис доставки.
func NewService(transport domain.Transport, cfg Config, log zerolog.Logger) *Service {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = telegram.DefaultMaxLength
	}
	coordinator := NewCoordinator(transport, cfg.Pace, log)
	coordinator.limit = cfg.MaxLength
	return &Service{
		coordinator: coordinator,
		maxLength:   cfg.MaxLength,
		log:         log,
	}
}

// Send доставляет текст в чат. Если часть кусков не дошла, отчёт возвращается вместе с *domain.PartialDeliveryError.
func (s *Service) Send(ctx context.Context, chatID int64, text string) (domain.DeliveryReport, error) {
	text = telegram.Normalize(text)
	if text == "" {
		return domain.DeliveryReport{}, ErrEmptyMessage
	}
	// Короткий текст уходит одним куском без отметок, длинный режется с запасом под них.
	budget := s.maxLength
	if telegram.TextLength(text) > s.maxLength {
		budget = ChunkBudget(s.maxLength)
	}
	chunks, err := telegram.Split(text, budget)
	if err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("delivery: ошибка нарезки")
		return domain.DeliveryReport{}, fmt.Errorf("нарезка сообщения: %w", err)
	}
	report := s.coordinator.SendLong(ctx, chatID, chunks)
	if err := report.Err(); err != nil {
		return report, err
	}
	s.log.Debug().Int64("chat", chatID).Int("chunks", len(chunks)).Msg("delivery: сообщение доставлено")
	return report, nil
}
