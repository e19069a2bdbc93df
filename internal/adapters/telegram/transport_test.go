package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-reply-bot/internal/domain"
)

type sentRequest struct {
	method    string
	text      string
	parseMode string
	action    string
}

// fakeBotAPI отвечает как Bot API; reply решает, что вернуть на sendMessage.
type fakeBotAPI struct {
	mu       sync.Mutex
	requests []sentRequest
	reply    func(parseMode string) (int, string)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	method := path.Base(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"reply_bot"}}`)
		return
	case "sendChatAction":
		f.record(sentRequest{method: method, action: r.FormValue("action")})
		fmt.Fprint(w, `{"ok":true,"result":true}`)
		return
	}
	req := sentRequest{method: method, text: r.FormValue("text"), parseMode: r.FormValue("parse_mode")}
	f.record(req)
	code, body := http.StatusOK, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`
	if f.reply != nil {
		code, body = f.reply(req.parseMode)
	}
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func (f *fakeBotAPI) record(req sentRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func newTestTransport(t *testing.T, fake *fakeBotAPI) (*Transport, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	bot, err := tgbotapi.NewBotAPIWithClient("TOKEN", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("bot init: %v", err)
	}
	return NewTransport(bot), srv
}

func TestTransportSendUsesParseMode(t *testing.T) {
	fake := &fakeBotAPI{}
	tr, _ := newTestTransport(t, fake)

	for _, mode := range domain.AllRenderModes {
		if err := tr.Send(context.Background(), 42, "text", mode); err != nil {
			t.Fatalf("send in %v: %v", mode, err)
		}
	}
	want := []string{tgbotapi.ModeMarkdown, tgbotapi.ModeMarkdown, tgbotapi.ModeMarkdownV2, ""}
	if len(fake.requests) != len(want) {
		t.Fatalf("expected %d requests, got %d", len(want), len(fake.requests))
	}
	for i, req := range fake.requests {
		if req.method != "sendMessage" {
			t.Fatalf("request %d: unexpected method %s", i, req.method)
		}
		if req.parseMode != want[i] {
			t.Fatalf("request %d: parse mode %q, want %q", i, req.parseMode, want[i])
		}
	}
}

func TestTransportClassifiesFormatErrors(t *testing.T) {
	fake := &fakeBotAPI{reply: func(string) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 3"}`
	}}
	tr, _ := newTestTransport(t, fake)

	err := tr.Send(context.Background(), 42, "*oops", domain.RenderRich)
	if !errors.Is(err, domain.ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestTransportKeepsOtherErrors(t *testing.T) {
	fake := &fakeBotAPI{reply: func(string) (int, string) {
		return http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	}}
	tr, _ := newTestTransport(t, fake)

	err := tr.Send(context.Background(), 42, "hi", domain.RenderRich)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrFormat) {
		t.Fatalf("blocked bot must not be a format error: %v", err)
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusForbidden {
		t.Fatalf("expected *tgbotapi.Error with code 403, got %v", err)
	}
}

func TestTransportNetworkFailureIsNotFormatError(t *testing.T) {
	fake := &fakeBotAPI{}
	tr, srv := newTestTransport(t, fake)
	srv.Close()

	err := tr.Send(context.Background(), 42, "hi", domain.RenderRich)
	if err == nil || errors.Is(err, domain.ErrFormat) {
		t.Fatalf("expected a non-format error, got %v", err)
	}
}

func TestTransportSendTyping(t *testing.T) {
	fake := &fakeBotAPI{}
	tr, _ := newTestTransport(t, fake)

	if err := tr.SendTyping(context.Background(), 42); err != nil {
		t.Fatalf("send typing: %v", err)
	}
	if len(fake.requests) != 1 || fake.requests[0].action != tgbotapi.ChatTyping {
		t.Fatalf("unexpected requests: %+v", fake.requests)
	}
}

func TestTransportHonoursCancelledContext(t *testing.T) {
	fake := &fakeBotAPI{}
	tr, _ := newTestTransport(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tr.Send(ctx, 42, "hi", domain.RenderPlain); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.requests) != 0 {
		t.Fatalf("no request expected, got %d", len(fake.requests))
	}
}
