package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tg-reply-bot/internal/adapters/media"
	"tg-reply-bot/internal/domain"
	openai "tg-reply-bot/internal/infra/openai"
)

// ErrEmptyCompletion возвращается, если модель ничего не ответила.
var ErrEmptyCompletion = errors.New("openai completion: пустой ответ")

const (
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 60 * time.Second
	defaultImagePrompt = "Опиши, что на изображении."
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Options задаёт параметры генерации.
type Options struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	Timeout      time.Duration
}

// OpenAI отвечает пользователю через OpenAI Chat Completions.
type OpenAI struct {
	client chatClient
	opts   Options
}

var _ domain.Completer = (*OpenAI)(nil)

// NewOpenAI создаёт ассистента.
func NewOpenAI(client chatClient, opts Options) *OpenAI {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &OpenAI{client: client, opts: opts}
}

// Complete строит диалог из истории, текущего запроса и изображений и возвращает ответ модели.
func (a *OpenAI) Complete(ctx context.Context, history []domain.ChatTurn, prompt string, images []domain.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       a.opts.Model,
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		Messages:    a.buildMessages(history, prompt, images),
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	return content, nil
}

func (a *OpenAI) buildMessages(history []domain.ChatTurn, prompt string, images []domain.Image) []openai.ChatMessage {
	messages := make([]openai.ChatMessage, 0, len(history)+2)
	if a.opts.SystemPrompt != "" {
		messages = append(messages, openai.ChatMessage{Role: openai.RoleSystem, Content: a.opts.SystemPrompt})
	}
	for _, turn := range history {
		role := openai.RoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.RoleAssistant
		}
		messages = append(messages, openai.ChatMessage{Role: role, Content: turn.Text})
	}

	prompt = strings.TrimSpace(prompt)
	if len(images) == 0 {
		return append(messages, openai.ChatMessage{Role: openai.RoleUser, Content: prompt})
	}
	if prompt == "" {
		prompt = defaultImagePrompt
	}
	parts := make([]openai.ContentPart, 0, len(images)+1)
	parts = append(parts, openai.TextPart(prompt))
	for _, img := range images {
		parts = append(parts, openai.ImagePart(media.DataURL(img)))
	}
	return append(messages, openai.ChatMessage{Role: openai.RoleUser, Parts: parts})
}
