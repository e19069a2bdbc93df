package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DeliveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_attempts_total",
		Help: "Попытки отправки куска по режимам отрисовки",
	}, []string{"mode", "status"})

	DeliveryChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_chunks_total",
		Help: "Итог доставки кусков",
	}, []string{"status"})

	DeliveryMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_total",
		Help: "Итог доставки длинных сообщений",
	}, []string{"status"})

	ReplyJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reply_jobs_total",
		Help: "Обработанные задачи на ответ",
	}, []string{"status"})

	ReplyBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reply_build_seconds",
		Help:    "Время подготовки и доставки ответа",
		Buckets: prometheus.DefBuckets,
	})

	AlbumFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "album_flushes_total",
		Help: "Сброс накопленных альбомов по причинам",
	}, []string{"reason"})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DeliveryAttempts,
		DeliveryChunks,
		DeliveryMessages,
		ReplyJobs,
		ReplyBuildSeconds,
		AlbumFlushes,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status(err)).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status(err)).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveDeliveryAttempt учитывает одну попытку отправки куска в режиме mode.
func ObserveDeliveryAttempt(mode string, err error) {
	DeliveryAttempts.WithLabelValues(mode, status(err)).Inc()
}

// ObserveChunk учитывает итог доставки куска.
func ObserveChunk(delivered bool) {
	if delivered {
		DeliveryChunks.WithLabelValues("delivered").Inc()
		return
	}
	DeliveryChunks.WithLabelValues("failed").Inc()
	BotSendErrors.Inc()
}

// ObserveMessage учитывает итог доставки сообщения целиком.
func ObserveMessage(status string) {
	DeliveryMessages.WithLabelValues(status).Inc()
}

// ObserveReplyJob учитывает обработку задачи на ответ.
func ObserveReplyJob(status string, start time.Time) {
	ReplyJobs.WithLabelValues(status).Inc()
	ReplyBuildSeconds.Observe(time.Since(start).Seconds())
}

// IncAlbumFlush учитывает сброс альбома.
func IncAlbumFlush(reason string) {
	AlbumFlushes.WithLabelValues(reason).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
