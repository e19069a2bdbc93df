package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-reply-bot/internal/adapters/telegram"
	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// DefaultPace задаёт паузу между отправками соседних кусков.
const DefaultPace = 300 * time.Millisecond

const (
	partHeader = "📄 %d/%d"
	lastHeader = "📄 %d/%d · окончание"
	partFooter = "⏬ продолжение следует"
)

// repairSlack оставляет место под закрывающие маркеры, которые дописывает Repair.
const repairSlack = 8

// Coordinator доставляет куски длинного сообщения строго по порядку.
type Coordinator struct {
	cascade   *Cascade
	transport domain.Transport
	pace      time.Duration
	limit     int
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

// NewCoordinator создаёт координатор. pace <= 0 отключает паузы.
func NewCoordinator(transport domain.Transport, pace time.Duration, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		cascade:   NewCascade(transport, log),
		transport: transport,
		pace:      pace,
		limit:     telegram.DefaultMaxLength,
		sleep:     sleepContext,
		log:       log,
	}
}

// SendLong чинит разметку каждого куска, добавляет отметки продолжения и отправляет куски по одному.
// Сбой одного куска не прерывает отправку остальных: вместо него уходит короткое уведомление.
// Отмена контекста останавливает отправку, оставшиеся куски считаются недоставленными.
func (c *Coordinator) SendLong(ctx context.Context, chatID int64, chunks []string) domain.DeliveryReport {
	total := len(chunks)
	report := domain.DeliveryReport{Outcomes: make([]domain.DeliveryOutcome, 0, total)}
	for i, chunk := range chunks {
		if i > 0 {
			if err := c.sleep(ctx, c.pace); err != nil {
				c.abandon(&report, chunks, i, err)
				break
			}
		}
		text := c.prepare(chunk, i, total)
		outcome := c.cascade.Deliver(ctx, chatID, i, text)
		report.Outcomes = append(report.Outcomes, outcome)
		metrics.ObserveChunk(outcome.Delivered())
		if outcome.Delivered() {
			continue
		}
		report.Failed = append(report.Failed, i)
		if ctx.Err() != nil {
			c.abandon(&report, chunks, i+1, ctx.Err())
			break
		}
		if err := c.transport.Send(ctx, chatID, Notice(i, total), domain.RenderPlain); err != nil {
			if report.NoticeErrs == nil {
				report.NoticeErrs = make(map[int]error)
			}
			report.NoticeErrs[i] = err
			c.log.Error().Err(err).Int64("chat", chatID).Int("chunk", i).Msg("delivery: не удалось отправить уведомление о сбое")
		}
	}
	metrics.ObserveMessage(report.Status().String())
	return report
}

// prepare чинит разметку и добавляет отметку позиции.
// Если починка выводит текст за лимит, кусок уходит без починки: каскад сам спустится до режима без разметки.
func (c *Coordinator) prepare(chunk string, index, total int) string {
	text := Annotate(telegram.Repair(chunk), index, total)
	if telegram.TextLength(text) <= c.limit {
		return text
	}
	c.log.Warn().Int("chunk", index).Int("length", telegram.TextLength(text)).Int("limit", c.limit).Msg("delivery: починка разметки не влезает в лимит, кусок уйдёт как есть")
	return Annotate(chunk, index, total)
}

// ChunkBudget возвращает лимит для нарезки длинного текста:
// maxLength за вычетом самой длинной отметки позиции и запаса под починку разметки.
func ChunkBudget(maxLength int) int {
	reserve := max(
		telegram.TextLength(Annotate("", 9997, 9999)),
		telegram.TextLength(Annotate("", 9998, 9999)),
	) + repairSlack
	if maxLength <= reserve {
		return 1
	}
	return maxLength - reserve
}

// abandon помечает куски начиная с from недоставленными без попыток отправки.
func (c *Coordinator) abandon(report *domain.DeliveryReport, chunks []string, from int, err error) {
	for i := from; i < len(chunks); i++ {
		report.Outcomes = append(report.Outcomes, domain.DeliveryOutcome{Index: i, Err: err})
		report.Failed = append(report.Failed, i)
	}
}

// Annotate добавляет к куску отметку его позиции. Отметки не содержат разметки.
func Annotate(chunk string, index, total int) string {
	switch domain.PositionOf(index, total) {
	case domain.PositionFirst, domain.PositionMiddle:
		return fmt.Sprintf(partHeader, index+1, total) + "\n\n" + chunk + "\n\n" + partFooter
	case domain.PositionLast:
		return fmt.Sprintf(lastHeader, index+1, total) + "\n\n" + chunk
	default:
		return chunk
	}
}

// Notice возвращает текст уведомления о недоставленной части.
func Notice(index, total int) string {
	if total <= 1 {
		return "⚠️ Не удалось отправить сообщение"
	}
	return fmt.Sprintf("⚠️ Не удалось отправить часть %d/%d", index+1, total)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
