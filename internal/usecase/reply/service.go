package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// ErrPhotos возвращается, если не удалось скачать фото задачи.
var ErrPhotos = errors.New("не удалось загрузить фото")

const (
	upstreamApology = "⚠️ Не удалось получить ответ. Попробуйте повторить запрос чуть позже."
	photoApology    = "⚠️ Не удалось загрузить фото. Попробуйте отправить его ещё раз."
)

// Replier доставляет текст ответа пользователю.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string) (domain.DeliveryReport, error)
}

// Deps собирает зависимости сервиса ответов.
type Deps struct {
	Completer domain.Completer
	Photos    domain.PhotoFetcher
	History   domain.HistoryStore
	Replies   Replier
	Transport domain.Transport
	Journal   domain.DeliveryJournal
}

// Service готовит ответ на задачу и доставляет его.
type Service struct {
	completer domain.Completer
	photos    domain.PhotoFetcher
	history   domain.HistoryStore
	replies   Replier
	transport domain.Transport
	journal   domain.DeliveryJournal
	typing    time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис ответов. typingInterval <= 0 отключает индикатор набора.
func NewService(deps Deps, typingInterval time.Duration, log zerolog.Logger) *Service {
	return &Service{
		completer: deps.Completer,
		photos:    deps.Photos,
		history:   deps.History,
		replies:   deps.Replies,
		transport: deps.Transport,
		journal:   deps.Journal,
		typing:    typingInterval,
		log:       log,
		now:       time.Now,
	}
}

// Process обрабатывает задачу. Ошибка возвращается только если задачу стоит повторить.
func (s *Service) Process(ctx context.Context, job domain.ReplyJob) error {
	start := time.Now()
	logger := s.log.With().Str("job", job.ID).Int64("chat", job.ChatID).Logger()

	stopTyping := s.startTyping(ctx, job.ChatID)
	answer, genErr := s.generate(ctx, job)
	stopTyping()

	if ctx.Err() != nil {
		metrics.ObserveReplyJob("cancelled", start)
		return ctx.Err()
	}

	status := "ok"
	text := answer
	if genErr != nil {
		logger.Error().Err(genErr).Msg("reply: не удалось подготовить ответ")
		status = "upstream_error"
		text = upstreamApology
		if errors.Is(genErr, ErrPhotos) {
			status = "photo_error"
			text = photoApology
		}
	}

	report, sendErr := s.replies.Send(ctx, job.ChatID, text)
	var partial *domain.PartialDeliveryError
	switch {
	case sendErr == nil:
	case errors.As(sendErr, &partial):
		logger.Warn().Err(sendErr).Msg("reply: ответ доставлен не полностью")
		if status == "ok" {
			status = "partial"
		}
	default:
		if ctx.Err() != nil {
			metrics.ObserveReplyJob("cancelled", start)
			return ctx.Err()
		}
		logger.Error().Err(sendErr).Msg("reply: не удалось доставить ответ")
		status = "failed"
	}

	if genErr == nil && (sendErr == nil || partial != nil) {
		s.remember(ctx, logger, job, answer)
	}
	s.record(ctx, logger, job, report, firstErr(genErr, sendErr))
	metrics.ObserveReplyJob(status, start)
	logger.Info().Str("status", status).Int("chunks", len(report.Outcomes)).Dur("took", time.Since(start)).Msg("reply: задача обработана")
	return nil
}

func (s *Service) generate(ctx context.Context, job domain.ReplyJob) (string, error) {
	images, err := s.fetchPhotos(ctx, job.Photos)
	if err != nil {
		return "", err
	}
	var history []domain.ChatTurn
	if s.history != nil {
		history, err = s.history.Load(ctx, job.ChatID)
		if err != nil {
			s.log.Warn().Err(err).Int64("chat", job.ChatID).Msg("reply: история недоступна, отвечаем без неё")
			history = nil
		}
	}
	answer, err := s.completer.Complete(ctx, history, job.Text, images)
	if err != nil {
		return "", fmt.Errorf("генерация ответа: %w", err)
	}
	return answer, nil
}

func (s *Service) fetchPhotos(ctx context.Context, refs []domain.PhotoRef) ([]domain.Image, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	images := make([]domain.Image, 0, len(refs))
	for _, ref := range refs {
		img, err := s.photos.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPhotos, ref.FileID, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *Service) remember(ctx context.Context, logger zerolog.Logger, job domain.ReplyJob, answer string) {
	if s.history == nil {
		return
	}
	at := s.now().UTC()
	err := s.history.Append(ctx, job.ChatID,
		domain.ChatTurn{Role: domain.RoleUser, Text: userTurnText(job), At: at},
		domain.ChatTurn{Role: domain.RoleAssistant, Text: answer, At: at},
	)
	if err != nil {
		logger.Warn().Err(err).Msg("reply: не удалось сохранить историю")
	}
}

func (s *Service) record(ctx context.Context, logger zerolog.Logger, job domain.ReplyJob, report domain.DeliveryReport, cause error) {
	if s.journal == nil {
		return
	}
	record := domain.DeliveryRecord{
		JobID:       job.ID,
		ChatID:      job.ChatID,
		Chunks:      len(report.Outcomes),
		Failed:      report.Failed,
		Modes:       report.Modes(),
		Status:      report.Status(),
		DeliveredAt: s.now().UTC(),
	}
	if len(report.Outcomes) == 0 && cause != nil {
		record.Status = domain.DeliveryPartiallyFailed
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	if err := s.journal.RecordDelivery(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn().Err(err).Msg("reply: не удалось записать журнал доставки")
	}
}

// startTyping показывает индикатор набора, пока ответ готовится.
func (s *Service) startTyping(ctx context.Context, chatID int64) (stop func()) {
	if s.transport == nil || s.typing <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.typing)
		defer ticker.Stop()
		for {
			if err := s.transport.SendTyping(ctx, chatID); err != nil && ctx.Err() == nil {
				s.log.Debug().Err(err).Int64("chat", chatID).Msg("reply: индикатор набора не отправлен")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func userTurnText(job domain.ReplyJob) string {
	text := strings.TrimSpace(job.Text)
	if len(job.Photos) == 0 {
		return text
	}
	mark := fmt.Sprintf("[фото: %d]", len(job.Photos))
	if text == "" {
		return mark
	}
	return mark + " " + text
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
