package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// formatErrorMarkers перечисляет фрагменты описаний ошибок Bot API, вызванных разметкой.
// «message is too long» тоже сюда: после экранирования текст растёт, а более простой режим его укорачивает.
var formatErrorMarkers = []string{
	"can't parse",
	"parse entities",
	"can't find end",
	"unsupported start tag",
	"unclosed",
	"message is too long",
}

// Sender покрывает часть *tgbotapi.BotAPI, нужную транспорту.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Transport реализует domain.Transport поверх Bot API.
type Transport struct {
	bot Sender
}

var _ domain.Transport = (*Transport)(nil)

// NewTransport создаёт транспорт.
func NewTransport(bot Sender) *Transport {
	return &Transport{bot: bot}
}

// ParseMode возвращает parse_mode Bot API для режима отрисовки.
func ParseMode(mode domain.RenderMode) string {
	switch mode {
	case domain.RenderRich, domain.RenderSanitized:
		return tgbotapi.ModeMarkdown
	case domain.RenderStrictEscaped:
		return tgbotapi.ModeMarkdownV2
	default:
		return ""
	}
}

// Send отправляет текст с parse_mode, соответствующим режиму.
func (t *Transport) Send(ctx context.Context, chatID int64, text string, mode domain.RenderMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = ParseMode(mode)
	msg.DisableWebPagePreview = true
	start := time.Now()
	_, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
	return classify(err)
}

// SendTyping показывает индикатор набора.
func (t *Transport) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	_, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	metrics.ObserveNetworkRequest("telegram_bot", "send_chat_action", strconv.FormatInt(chatID, 10), start, err)
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Message)
	for _, marker := range formatErrorMarkers {
		if strings.Contains(desc, marker) {
			return fmt.Errorf("%w: %s", domain.ErrFormat, apiErr.Message)
		}
	}
	return err
}
