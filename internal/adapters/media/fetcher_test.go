package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tg-reply-bot/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type staticLinker struct {
	url string
	err error
}

func (l staticLinker) GetFileDirectURL(string) (string, error) { return l.url, l.err }

func TestFetchDetectsMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	f := NewTelegramFetcher(staticLinker{url: srv.URL + "/file.bin"}, srv.Client(), 0)
	img, err := f.Fetch(context.Background(), domain.PhotoRef{FileID: "f1"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if img.MIME != "image/png" || len(img.Data) != len(pngHeader) {
		t.Fatalf("неожиданное изображение: %s, %d байт", img.MIME, len(img.Data))
	}
}

func TestFetchRejectsLargeFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewTelegramFetcher(staticLinker{url: srv.URL}, srv.Client(), 32)
	if _, err := f.Fetch(context.Background(), domain.PhotoRef{FileID: "f1"}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидали ErrTooLarge, получили %v", err)
	}
	if _, err := f.Fetch(context.Background(), domain.PhotoRef{FileID: "f1", FileSize: 100}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидали ErrTooLarge по размеру из апдейта, получили %v", err)
	}
}

func TestFetchPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	f := NewTelegramFetcher(staticLinker{err: boom}, nil, 0)
	if _, err := f.Fetch(context.Background(), domain.PhotoRef{FileID: "f1"}); !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку ссылки, получили %v", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	f = NewTelegramFetcher(staticLinker{url: srv.URL}, srv.Client(), 0)
	if _, err := f.Fetch(context.Background(), domain.PhotoRef{FileID: "f1"}); err == nil {
		t.Fatal("ожидали ошибку на 404")
	}
}

func TestDataURL(t *testing.T) {
	got := DataURL(domain.Image{MIME: "image/png", Data: []byte("hi")})
	if got != "data:image/png;base64,aGk=" {
		t.Fatalf("неожиданный data URL: %s", got)
	}
	if got := DataURL(domain.Image{Data: []byte("hi")}); got != "data:image/jpeg;base64,aGk=" {
		t.Fatalf("ожидали jpeg по умолчанию: %s", got)
	}
}
