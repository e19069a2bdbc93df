package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tg-reply-bot/internal/domain"
)

const keyPrefix = "history:"

// Store хранит историю диалога в кэше JSON-списком под ключом history:<chat>.
type Store struct {
	cache    domain.Cache
	ttl      time.Duration
	maxTurns int
}

var _ domain.HistoryStore = (*Store)(nil)

// NewStore создаёт хранилище истории. maxTurns <= 0 отключает обрезку.
func NewStore(cache domain.Cache, ttl time.Duration, maxTurns int) *Store {
	return &Store{cache: cache, ttl: ttl, maxTurns: maxTurns}
}

func key(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}

// Load возвращает историю чата. Отсутствие истории не ошибка.
func (s *Store) Load(ctx context.Context, chatID int64) ([]domain.ChatTurn, error) {
	data, err := s.cache.Get(ctx, key(chatID))
	if errors.Is(err, domain.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var turns []domain.ChatTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

// Append дописывает реплики и оставляет не больше maxTurns последних.
func (s *Store) Append(ctx context.Context, chatID int64, turns ...domain.ChatTurn) error {
	if len(turns) == 0 {
		return nil
	}
	all, err := s.Load(ctx, chatID)
	if err != nil {
		return err
	}
	all = append(all, turns...)
	if s.maxTurns > 0 && len(all) > s.maxTurns {
		all = all[len(all)-s.maxTurns:]
	}
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.cache.Set(ctx, key(chatID), data, s.ttl); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Reset удаляет историю чата.
func (s *Store) Reset(ctx context.Context, chatID int64) error {
	if err := s.cache.Del(ctx, key(chatID)); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	return nil
}
