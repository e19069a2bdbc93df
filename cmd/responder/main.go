package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tg-reply-bot/internal/adapters/assistant"
	"tg-reply-bot/internal/adapters/history"
	"tg-reply-bot/internal/adapters/media"
	"tg-reply-bot/internal/adapters/repo"
	"tg-reply-bot/internal/adapters/telegram"
	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/cache"
	"tg-reply-bot/internal/infra/config"
	"tg-reply-bot/internal/infra/db"
	applog "tg-reply-bot/internal/infra/log"
	"tg-reply-bot/internal/infra/metrics"
	"tg-reply-bot/internal/infra/openai"
	"tg-reply-bot/internal/infra/queue"
	"tg-reply-bot/internal/usecase/delivery"
	"tg-reply-bot/internal/usecase/reply"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("responder: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("responder: не удалось создать бота")
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("responder: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	completer := assistant.NewOpenAI(openaiClient, assistant.Options{
		Model:        cfg.OpenAI.Model,
		MaxTokens:    cfg.OpenAI.MaxTokens,
		SystemPrompt: cfg.OpenAI.SystemPrompt,
		Timeout:      cfg.OpenAI.Timeout,
	})

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	replyQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitMQURL, cfg.Queues.Reply, cfg.Workers)
	if err != nil {
		logger.Fatal().Err(err).Msg("responder: не удалось инициализировать очередь")
	}
	defer func() {
		if err := closeQueue(); err != nil {
			logger.Error().Err(err).Msg("responder: ошибка закрытия очереди")
		}
	}()
	if rq, ok := replyQueue.(*queue.RedisReplyQueue); ok {
		consumer := cfg.Queues.Consumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		rq = rq.WithConsumer(consumer)
		replyQueue = rq
		moved, err := rq.Requeue(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("responder: не удалось вернуть зависшие задачи")
		}
		if moved > 0 {
			logger.Warn().Int("jobs", moved).Str("consumer", consumer).Msg("responder: зависшие задачи возвращены в очередь")
		}
	}

	var journal domain.DeliveryJournal = repo.Nop{}
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("responder: нет подключения к БД")
		}
		defer pool.Close()
		pg := repo.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("responder: не удалось подготовить журнал доставки")
		}
		journal = pg
	}

	transport := telegram.NewTransport(botAPI)
	replies := delivery.NewService(transport, delivery.Config{
		MaxLength: cfg.Delivery.MaxLength,
		Pace:      cfg.Delivery.Pace,
	}, applog.Component(logger, "delivery"))

	service := reply.NewService(reply.Deps{
		Completer: completer,
		Photos:    media.NewTelegramFetcher(botAPI, &http.Client{Timeout: 30 * time.Second}, cfg.Media.MaxPhotoBytes),
		History:   history.NewStore(cache.NewRedis(redisClient), cfg.History.TTL, cfg.History.MaxTurns),
		Replies:   replies,
		Transport: transport,
		Journal:   journal,
	}, cfg.Delivery.TypingInterval, applog.Component(logger, "reply"))

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Info().Int("workers", workers).Str("backend", cfg.Queues.Backend).Msg("responder: запуск обработки очереди")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		workerLog := logger.With().Str("component", "worker").Int("worker", i).Logger()
		g.Go(func() error {
			return reply.NewWorker(replyQueue, service, workerLog).Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("responder: воркеры завершились с ошибкой")
	}
	logger.Info().Msg("responder: остановлен")
}
