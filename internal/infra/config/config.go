package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token         string        `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string        `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string        `envconfig:"TG_WEBHOOK_SECRET"`
		PollTimeout   int           `envconfig:"TG_POLL_TIMEOUT" default:"30"`
		DedupTTL      time.Duration `envconfig:"TG_DEDUP_TTL" default:"10m"`
	} `envconfig:""`

	OpenAI struct {
		APIKey       string        `envconfig:"OPENAI_API_KEY"`
		BaseURL      string        `envconfig:"OPENAI_BASE_URL"`
		Model        string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout      time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
		MaxTokens    int           `envconfig:"OPENAI_MAX_TOKENS" default:"2048"`
		SystemPrompt string        `envconfig:"OPENAI_SYSTEM_PROMPT" default:"Ты полезный ассистент. Отвечай по существу, используй Markdown умеренно."`
	} `envconfig:""`

	Delivery struct {
		MaxLength      int           `envconfig:"DELIVERY_MAX_LENGTH" default:"4000"`
		Pace           time.Duration `envconfig:"DELIVERY_PACE" default:"300ms"`
		TypingInterval time.Duration `envconfig:"TYPING_INTERVAL" default:"4s"`
	} `envconfig:""`

	Album struct {
		Window     time.Duration `envconfig:"ALBUM_WINDOW" default:"1500ms"`
		MaxPending int           `envconfig:"ALBUM_MAX_PENDING" default:"256"`
		MaxPhotos  int           `envconfig:"ALBUM_MAX_PHOTOS" default:"10"`
	} `envconfig:""`

	History struct {
		TTL      time.Duration `envconfig:"HISTORY_TTL" default:"24h"`
		MaxTurns int           `envconfig:"HISTORY_MAX_TURNS" default:"20"`
	} `envconfig:""`

	Media struct {
		MaxPhotoBytes int64 `envconfig:"MAX_PHOTO_BYTES" default:"10485760"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr   string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend  string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Reply    string `envconfig:"REPLY_QUEUE_KEY" default:"reply_jobs"`
		Consumer string `envconfig:"QUEUE_CONSUMER_ID"`
	} `envconfig:""`

	Workers int `envconfig:"WORKERS" default:"4"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
