package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// ErrTooLarge возвращается, если файл больше допустимого размера.
var ErrTooLarge = errors.New("media: file too large")

// DefaultMaxBytes задаёт лимит размера фото по умолчанию.
const DefaultMaxBytes = 10 << 20

const fallbackMIME = "image/jpeg"

// FileLinker выдаёт прямую ссылку на файл. Реализуется *tgbotapi.BotAPI.
type FileLinker interface {
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramFetcher скачивает фото из Telegram.
type TelegramFetcher struct {
	files    FileLinker
	http     *http.Client
	maxBytes int64
}

var _ domain.PhotoFetcher = (*TelegramFetcher)(nil)

// NewTelegramFetcher создаёт загрузчик. maxBytes <= 0 означает DefaultMaxBytes.
func NewTelegramFetcher(files FileLinker, client *http.Client, maxBytes int64) *TelegramFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &TelegramFetcher{files: files, http: client, maxBytes: maxBytes}
}

// Fetch скачивает фото и определяет его MIME-тип.
func (f *TelegramFetcher) Fetch(ctx context.Context, ref domain.PhotoRef) (domain.Image, error) {
	if ref.FileSize > 0 && int64(ref.FileSize) > f.maxBytes {
		return domain.Image{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, ref.FileSize)
	}
	url, err := f.files.GetFileDirectURL(ref.FileID)
	if err != nil {
		return domain.Image{}, fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Image{}, fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("telegram_bot", "download_file", "photo", start, err)
		return domain.Image{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("download: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("telegram_bot", "download_file", "photo", start, err)
		return domain.Image{}, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	metrics.ObserveNetworkRequest("telegram_bot", "download_file", "photo", start, err)
	if err != nil {
		return domain.Image{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return domain.Image{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return domain.Image{MIME: sniffMIME(data, resp.Header.Get("Content-Type")), Data: data}, nil
}

// sniffMIME определяет тип изображения по содержимому, затем по заголовку.
func sniffMIME(data []byte, header string) string {
	if mime := http.DetectContentType(data); strings.HasPrefix(mime, "image/") {
		return mime
	}
	if mime, _, _ := strings.Cut(header, ";"); strings.HasPrefix(mime, "image/") {
		return strings.TrimSpace(mime)
	}
	return fallbackMIME
}

// DataURL кодирует изображение в data URL для передачи модели.
func DataURL(img domain.Image) string {
	mime := img.MIME
	if mime == "" {
		mime = fallbackMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
