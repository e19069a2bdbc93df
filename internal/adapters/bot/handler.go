package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-reply-bot/internal/adapters/album"
	"tg-reply-bot/internal/domain"
)

const (
	startText = "Привет! Я отвечаю на вопросы с помощью языковой модели.\n\n" +
		"Просто напишите сообщение или пришлите фото с подписью. Длинные ответы приходят частями.\n\n" +
		"/help — справка\n/reset — начать диалог заново"
	helpText = "Что я умею:\n" +
		"• отвечать на текстовые сообщения с учётом истории диалога;\n" +
		"• описывать фото и альбомы, подпись считается вопросом;\n" +
		"• присылать длинные ответы несколькими сообщениями.\n\n" +
		"/reset — забыть историю диалога"
	resetText    = "История диалога очищена."
	unknownText  = "Неизвестная команда. Используйте /help"
	noTextText   = "Пока я понимаю только текст и фото."
	apologyText  = "Не удалось принять сообщение. Попробуйте позже."
	flushTimeout = 10 * time.Second
)

// Replier доставляет текст пользователю.
type Replier interface {
	Send(ctx context.Context, chatID int64, text string) (domain.DeliveryReport, error)
}

// Config задаёт дедупликацию апдейтов и параметры буфера альбомов.
type Config struct {
	DedupTTL       time.Duration
	AlbumWindow    time.Duration
	MaxAlbums      int
	MaxAlbumPhotos int
}

// Handler принимает апдейты бота и ставит задачи на ответ в очередь.
type Handler struct {
	log      zerolog.Logger
	jobs     domain.ReplyQueue
	cache    domain.Cache
	history  domain.HistoryStore
	replies  Replier
	albums   *album.Buffer
	dedupTTL time.Duration
	now      func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(log zerolog.Logger, jobs domain.ReplyQueue, cache domain.Cache, history domain.HistoryStore, replies Replier, cfg Config) *Handler {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.AlbumWindow <= 0 {
		cfg.AlbumWindow = 1500 * time.Millisecond
	}
	if cfg.MaxAlbums <= 0 {
		cfg.MaxAlbums = 256
	}
	h := &Handler{
		log:      log,
		jobs:     jobs,
		cache:    cache,
		history:  history,
		replies:  replies,
		dedupTTL: cfg.DedupTTL,
		now:      time.Now,
	}
	h.albums = album.NewBuffer(cfg.AlbumWindow, cfg.MaxAlbums, cfg.MaxAlbumPhotos, h.onAlbum)
	return h
}

// Close сбрасывает накопленные альбомы в очередь.
func (h *Handler) Close() {
	h.albums.Flush()
}

// HandleUpdate обрабатывает входящий апдейт. Повторные апдейты с тем же update_id игнорируются.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if h.cache == nil {
		h.handleMessage(ctx, msg)
		return
	}
	key := "update:" + strconv.Itoa(upd.UpdateID)
	err := h.cache.Once(ctx, key, h.dedupTTL, func() error {
		h.handleMessage(ctx, msg)
		return nil
	})
	if err != nil {
		h.log.Error().Err(err).Int("update", upd.UpdateID).Msg("bot: ошибка дедупликации апдейта")
	}
}

// ServeHTTP принимает апдейты вебхука.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var upd tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.log.Warn().Err(err).Msg("bot: некорректный апдейт вебхука")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.HandleUpdate(r.Context(), upd)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, msg, command(text))
		return
	}

	if len(msg.Photo) > 0 {
		photo := largestPhoto(msg.Photo)
		caption := strings.TrimSpace(msg.Caption)
		if msg.MediaGroupID != "" {
			key := fmt.Sprintf("%d:%s", chatID, msg.MediaGroupID)
			h.albums.Add(key, album.Part{
				ChatID:    chatID,
				UserID:    userID(msg),
				MessageID: msg.MessageID,
				Caption:   caption,
				Photo:     photo,
			})
			return
		}
		h.enqueue(ctx, domain.ReplyJob{
			ChatID:    chatID,
			UserID:    userID(msg),
			MessageID: msg.MessageID,
			Text:      caption,
			Photos:    []domain.PhotoRef{photo},
		})
		return
	}

	if text == "" {
		h.reply(ctx, chatID, noTextText)
		return
	}
	h.enqueue(ctx, domain.ReplyJob{
		ChatID:    chatID,
		UserID:    userID(msg),
		MessageID: msg.MessageID,
		Text:      text,
	})
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message, cmd string) {
	chatID := msg.Chat.ID
	switch cmd {
	case "start":
		h.reply(ctx, chatID, startText)
	case "help":
		h.reply(ctx, chatID, helpText)
	case "reset":
		if err := h.history.Reset(ctx, chatID); err != nil {
			h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось очистить историю")
			h.reply(ctx, chatID, "Не удалось очистить историю. Попробуйте позже.")
			return
		}
		h.reply(ctx, chatID, resetText)
	default:
		h.reply(ctx, chatID, unknownText)
	}
}

func (h *Handler) onAlbum(a album.Album, reason album.FlushReason) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	h.log.Debug().Str("album", a.Key).Int("photos", len(a.Photos)).Str("reason", string(reason)).Msg("bot: альбом собран")
	h.enqueue(ctx, domain.ReplyJob{
		ChatID:    a.ChatID,
		UserID:    a.UserID,
		MessageID: a.MessageID,
		Text:      a.Caption,
		Photos:    a.Photos,
	})
}

func (h *Handler) enqueue(ctx context.Context, job domain.ReplyJob) {
	job.ID = uuid.NewString()
	job.RequestedAt = h.now().UTC()
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("chat", job.ChatID).Str("job", job.ID).Msg("bot: не удалось поставить задачу в очередь")
		h.reply(ctx, job.ChatID, apologyText)
		return
	}
	h.log.Debug().Int64("chat", job.ChatID).Str("job", job.ID).Int("photos", len(job.Photos)).Msg("bot: задача поставлена в очередь")
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.replies.Send(ctx, chatID, text); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

// command возвращает имя команды без слэша и упоминания бота.
func command(text string) string {
	name := strings.Fields(text)[0]
	name = strings.TrimPrefix(name, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name)
}

func largestPhoto(sizes []tgbotapi.PhotoSize) domain.PhotoRef {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return domain.PhotoRef{
		FileID:       best.FileID,
		FileUniqueID: best.FileUniqueID,
		Width:        best.Width,
		Height:       best.Height,
		FileSize:     best.FileSize,
	}
}

func userID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}
