package album

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// FlushReason объясняет, почему альбом был сброшен.
type FlushReason string

const (
	// ReasonExpired: окно ожидания новых фото истекло.
	ReasonExpired FlushReason = "expired"
	// ReasonEvicted: буфер переполнен, самый старый альбом вытеснен.
	ReasonEvicted FlushReason = "evicted"
	// ReasonFull: в альбоме набралось максимальное число фото.
	ReasonFull FlushReason = "full"
	// ReasonShutdown: буфер сбрасывается при остановке.
	ReasonShutdown FlushReason = "shutdown"
)

// Part описывает одно сообщение из медиагруппы.
type Part struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Caption   string
	Photo     domain.PhotoRef
}

// Album собирает накопленную медиагруппу.
type Album struct {
	Key       string
	ChatID    int64
	UserID    int64
	MessageID int
	Caption   string
	Photos    []domain.PhotoRef
}

type entry struct {
	mu      sync.Mutex
	album   Album
	touched time.Time
	reason  FlushReason
	flushed bool
}

// Buffer копит фото медиагрупп по ключу и отдаёт альбом целиком, когда новые части перестают приходить.
type Buffer struct {
	mu        sync.Mutex
	lru       *expirable.LRU[string, *entry]
	window    time.Duration
	maxPhotos int
	onFlush   func(Album, FlushReason)
	wg        sync.WaitGroup
}

// NewBuffer создаёт буфер. maxPending ограничивает число незавершённых альбомов, maxPhotos ограничивает размер альбома.
func NewBuffer(window time.Duration, maxPending, maxPhotos int, onFlush func(Album, FlushReason)) *Buffer {
	b := &Buffer{window: window, maxPhotos: maxPhotos, onFlush: onFlush}
	b.lru = expirable.NewLRU[string, *entry](maxPending, b.evicted, window)
	return b
}

// Add добавляет часть альбома key. Каждое добавление продлевает окно ожидания.
func (b *Buffer) Add(key string, part Part) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.lru.Get(key)
	if !ok {
		// истёкший, но ещё не вычищенный альбом с тем же ключом сбрасывается отдельно
		b.lru.Remove(key)
		e = newEntry(key, part)
	}
	e.mu.Lock()
	if e.flushed {
		e.mu.Unlock()
		e = newEntry(key, part)
		e.mu.Lock()
	}
	if e.album.Caption == "" {
		e.album.Caption = part.Caption
	}
	e.album.Photos = append(e.album.Photos, part.Photo)
	e.touched = time.Now()
	full := b.maxPhotos > 0 && len(e.album.Photos) >= b.maxPhotos
	if full {
		e.reason = ReasonFull
	}
	e.mu.Unlock()

	b.lru.Add(key, e)
	if full {
		b.lru.Remove(key)
	}
}

// Flush сбрасывает все накопленные альбомы и дожидается обработчиков.
func (b *Buffer) Flush() {
	b.mu.Lock()
	for _, e := range b.lru.Values() {
		e.mu.Lock()
		if e.reason == "" {
			e.reason = ReasonShutdown
		}
		e.mu.Unlock()
	}
	b.lru.Purge()
	b.mu.Unlock()
	b.wg.Wait()
}

// Len возвращает число незавершённых альбомов.
func (b *Buffer) Len() int {
	return b.lru.Len()
}

func newEntry(key string, part Part) *entry {
	return &entry{album: Album{Key: key, ChatID: part.ChatID, UserID: part.UserID, MessageID: part.MessageID}}
}

// evicted вызывается под блокировкой LRU, поэтому обработчик запускается отдельно.
func (b *Buffer) evicted(_ string, e *entry) {
	e.mu.Lock()
	reason := e.reason
	if reason == "" {
		reason = ReasonEvicted
		if time.Since(e.touched) >= b.window {
			reason = ReasonExpired
		}
	}
	e.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.flush(e, reason)
	}()
}

func (b *Buffer) flush(e *entry, reason FlushReason) {
	e.mu.Lock()
	if e.flushed || len(e.album.Photos) == 0 {
		e.flushed = true
		e.mu.Unlock()
		return
	}
	e.flushed = true
	album := e.album
	album.Photos = append([]domain.PhotoRef(nil), e.album.Photos...)
	e.mu.Unlock()

	metrics.IncAlbumFlush(string(reason))
	b.onFlush(album, reason)
}
