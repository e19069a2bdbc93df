package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-reply-bot/internal/adapters/bot"
	"tg-reply-bot/internal/adapters/history"
	"tg-reply-bot/internal/adapters/telegram"
	"tg-reply-bot/internal/infra/cache"
	"tg-reply-bot/internal/infra/config"
	apphttp "tg-reply-bot/internal/infra/http"
	applog "tg-reply-bot/internal/infra/log"
	"tg-reply-bot/internal/infra/metrics"
	"tg-reply-bot/internal/infra/queue"
	"tg-reply-bot/internal/usecase/delivery"
)

const webhookPath = "/bot/webhook"

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось создать бота")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	replyQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitMQURL, cfg.Queues.Reply, cfg.Workers)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось инициализировать очередь")
	}
	defer func() {
		if err := closeQueue(); err != nil {
			logger.Error().Err(err).Msg("gateway: ошибка закрытия очереди")
		}
	}()

	transport := telegram.NewTransport(botAPI)
	replies := delivery.NewService(transport, delivery.Config{
		MaxLength: cfg.Delivery.MaxLength,
		Pace:      cfg.Delivery.Pace,
	}, applog.Component(logger, "delivery"))
	histories := history.NewStore(redisCache, cfg.History.TTL, cfg.History.MaxTurns)

	h := bot.NewHandler(applog.Component(logger, "bot"), replyQueue, redisCache, histories, replies, bot.Config{
		DedupTTL:       cfg.Telegram.DedupTTL,
		AlbumWindow:    cfg.Album.Window,
		MaxAlbums:      cfg.Album.MaxPending,
		MaxAlbumPhotos: cfg.Album.MaxPhotos,
	})

	if cfg.Telegram.WebhookURL != "" {
		runWebhook(ctx, logger, cfg, botAPI, h)
	} else {
		metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)
		runPolling(ctx, logger, cfg, botAPI, h)
	}

	h.Close()
	logger.Info().Msg("gateway: остановлен")
}

func runWebhook(ctx context.Context, logger zerolog.Logger, cfg config.AppConfig, botAPI *tgbotapi.BotAPI, h *bot.Handler) {
	params := tgbotapi.Params{"url": cfg.Telegram.WebhookURL}
	params.AddNonEmpty("secret_token", cfg.Telegram.WebhookSecret)
	if _, err := botAPI.MakeRequest("setWebhook", params); err != nil {
		logger.Fatal().Err(err).Msg("gateway: не удалось установить вебхук")
	}

	srv := apphttp.NewServer(applog.Component(logger, "http"))
	srv.Router.With(apphttp.WebhookSecretMiddleware(cfg.Telegram.WebhookSecret)).Post(webhookPath, h.ServeHTTP)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + strconv.Itoa(cfg.Port))
	}()
	logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("gateway: приём апдейтов через вебхук")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("gateway: HTTP сервер остановлен")
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error().Err(err).Msg("gateway: ошибка остановки HTTP сервера")
	}
}

func runPolling(ctx context.Context, logger zerolog.Logger, cfg config.AppConfig, botAPI *tgbotapi.BotAPI, h *bot.Handler) {
	if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("gateway: не удалось снять вебхук")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := botAPI.GetUpdatesChan(u)
	logger.Info().Msg("gateway: приём апдейтов через long polling")

	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, upd)
		}
	}
}
