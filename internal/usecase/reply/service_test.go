package reply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"tg-reply-bot/internal/domain"
)

type fakeCompleter struct {
	history []domain.ChatTurn
	prompt  string
	images  []domain.Image
	answer  string
	err     error
	block   bool
}

func (f *fakeCompleter) Complete(ctx context.Context, history []domain.ChatTurn, prompt string, images []domain.Image) (string, error) {
	f.history, f.prompt, f.images = history, prompt, images
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.answer, f.err
}

type fakeFetcher struct {
	err error
}

func (f fakeFetcher) Fetch(_ context.Context, ref domain.PhotoRef) (domain.Image, error) {
	if f.err != nil {
		return domain.Image{}, f.err
	}
	return domain.Image{MIME: "image/jpeg", Data: []byte(ref.FileID)}, nil
}

type memHistory struct {
	turns   map[int64][]domain.ChatTurn
	loadErr error
}

func (h *memHistory) Load(_ context.Context, chatID int64) ([]domain.ChatTurn, error) {
	if h.loadErr != nil {
		return nil, h.loadErr
	}
	return h.turns[chatID], nil
}

func (h *memHistory) Append(_ context.Context, chatID int64, turns ...domain.ChatTurn) error {
	h.turns[chatID] = append(h.turns[chatID], turns...)
	return nil
}

func (h *memHistory) Reset(_ context.Context, chatID int64) error {
	delete(h.turns, chatID)
	return nil
}

type fakeReplier struct {
	texts  []string
	report domain.DeliveryReport
	err    error
}

func (r *fakeReplier) Send(_ context.Context, _ int64, text string) (domain.DeliveryReport, error) {
	r.texts = append(r.texts, text)
	return r.report, r.err
}

type typingTransport struct {
	mu     sync.Mutex
	typing int
}

func (t *typingTransport) Send(context.Context, int64, string, domain.RenderMode) error { return nil }

func (t *typingTransport) SendTyping(context.Context, int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing++
	return nil
}

type fakeJournal struct {
	records []domain.DeliveryRecord
}

func (j *fakeJournal) RecordDelivery(_ context.Context, r domain.DeliveryRecord) error {
	j.records = append(j.records, r)
	return nil
}

type fixture struct {
	svc       *Service
	completer *fakeCompleter
	history   *memHistory
	replies   *fakeReplier
	transport *typingTransport
	journal   *fakeJournal
}

func delivered(n int) domain.DeliveryReport {
	var r domain.DeliveryReport
	for i := 0; i < n; i++ {
		r.Outcomes = append(r.Outcomes, domain.DeliveryOutcome{Index: i, Mode: domain.RenderRich, Attempts: []domain.RenderMode{domain.RenderRich}})
	}
	return r
}

func newFixture(fetcher domain.PhotoFetcher) fixture {
	f := fixture{
		completer: &fakeCompleter{answer: "ответ"},
		history:   &memHistory{turns: map[int64][]domain.ChatTurn{}},
		replies:   &fakeReplier{report: delivered(1)},
		transport: &typingTransport{},
		journal:   &fakeJournal{},
	}
	f.svc = NewService(Deps{
		Completer: f.completer,
		Photos:    fetcher,
		History:   f.history,
		Replies:   f.replies,
		Transport: f.transport,
		Journal:   f.journal,
	}, time.Hour, zerolog.Nop())
	f.svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestProcessAnswersWithHistory(t *testing.T) {
	f := newFixture(fakeFetcher{})
	f.history.turns[100] = []domain.ChatTurn{{Role: domain.RoleUser, Text: "q0"}, {Role: domain.RoleAssistant, Text: "a0"}}

	if err := f.svc.Process(context.Background(), domain.ReplyJob{ID: "j1", ChatID: 100, Text: "q1"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if f.completer.prompt != "q1" || len(f.completer.history) != 2 {
		t.Fatalf("модель получила неверный контекст: %q %v", f.completer.prompt, f.completer.history)
	}
	if diff := cmp.Diff([]string{"ответ"}, f.replies.texts); diff != "" {
		t.Fatalf("неожиданные отправки (-want +got):\n%s", diff)
	}
	got := f.history.turns[100][2:]
	want := []domain.ChatTurn{{Role: domain.RoleUser, Text: "q1"}, {Role: domain.RoleAssistant, Text: "ответ"}}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(domain.ChatTurn{}, "At")); diff != "" {
		t.Fatalf("история не дописана (-want +got):\n%s", diff)
	}
	if f.transport.typing < 1 {
		t.Fatalf("ожидали индикатор набора")
	}

	wantRecord := domain.DeliveryRecord{
		JobID:       "j1",
		ChatID:      100,
		Chunks:      1,
		Modes:       []domain.RenderMode{domain.RenderRich},
		Status:      domain.DeliverySent,
		DeliveredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff([]domain.DeliveryRecord{wantRecord}, f.journal.records); diff != "" {
		t.Fatalf("неожиданный журнал (-want +got):\n%s", diff)
	}
}

func TestProcessPassesPhotos(t *testing.T) {
	f := newFixture(fakeFetcher{})
	job := domain.ReplyJob{ID: "j", ChatID: 1, Photos: []domain.PhotoRef{{FileID: "a"}, {FileID: "b"}}}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(f.completer.images) != 2 || string(f.completer.images[1].Data) != "b" {
		t.Fatalf("фото не переданы модели: %+v", f.completer.images)
	}
	if got := f.history.turns[1][0].Text; got != "[фото: 2]" {
		t.Fatalf("неожиданная реплика пользователя: %q", got)
	}
}

func TestProcessUpstreamFailureSendsApology(t *testing.T) {
	f := newFixture(fakeFetcher{})
	f.completer.err = errors.New("503")

	if err := f.svc.Process(context.Background(), domain.ReplyJob{ID: "j", ChatID: 1, Text: "q"}); err != nil {
		t.Fatalf("сбой модели не должен возвращать задачу в очередь: %v", err)
	}
	if diff := cmp.Diff([]string{upstreamApology}, f.replies.texts); diff != "" {
		t.Fatalf("ожидали извинение (-want +got):\n%s", diff)
	}
	if len(f.history.turns[1]) != 0 {
		t.Fatalf("при сбое история не пишется")
	}
	if len(f.journal.records) != 1 || !strings.Contains(f.journal.records[0].Error, "503") {
		t.Fatalf("журнал должен содержать ошибку: %+v", f.journal.records)
	}
}

func TestProcessPhotoFailure(t *testing.T) {
	f := newFixture(fakeFetcher{err: errors.New("too large")})
	job := domain.ReplyJob{ID: "j", ChatID: 1, Photos: []domain.PhotoRef{{FileID: "a"}}}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff([]string{photoApology}, f.replies.texts); diff != "" {
		t.Fatalf("ожидали извинение за фото (-want +got):\n%s", diff)
	}
}

func TestProcessHistoryUnavailable(t *testing.T) {
	f := newFixture(fakeFetcher{})
	f.history.loadErr = errors.New("redis down")
	if err := f.svc.Process(context.Background(), domain.ReplyJob{ID: "j", ChatID: 1, Text: "q"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if diff := cmp.Diff([]string{"ответ"}, f.replies.texts); diff != "" {
		t.Fatalf("без истории ответ всё равно уходит (-want +got):\n%s", diff)
	}
}

func TestProcessPartialDelivery(t *testing.T) {
	f := newFixture(fakeFetcher{})
	report := delivered(3)
	report.Outcomes[1] = domain.DeliveryOutcome{Index: 1, Attempts: domain.AllRenderModes, Err: errors.New("boom")}
	report.Failed = []int{1}
	f.replies.report = report
	f.replies.err = report.Err()

	if err := f.svc.Process(context.Background(), domain.ReplyJob{ID: "j", ChatID: 1, Text: "q"}); err != nil {
		t.Fatalf("частичная доставка не повторяется: %v", err)
	}
	rec := f.journal.records[0]
	if rec.Status != domain.DeliveryPartiallyFailed || rec.Chunks != 3 || len(rec.Modes) != 2 {
		t.Fatalf("неожиданная запись журнала: %+v", rec)
	}
	if diff := cmp.Diff([]int{1}, rec.Failed); diff != "" {
		t.Fatalf("неожиданные failed (-want +got):\n%s", diff)
	}
	if len(f.history.turns[1]) != 2 {
		t.Fatalf("частично доставленный ответ попадает в историю")
	}
}

func TestProcessCancelledIsRetried(t *testing.T) {
	f := newFixture(fakeFetcher{})
	f.completer.block = true
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := f.svc.Process(ctx, domain.ReplyJob{ID: "j", ChatID: 1, Text: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
	if len(f.replies.texts) != 0 || len(f.journal.records) != 0 {
		t.Fatalf("отменённая задача ничего не отправляет")
	}
}

func TestUserTurnText(t *testing.T) {
	cases := []struct {
		job  domain.ReplyJob
		want string
	}{
		{domain.ReplyJob{Text: " вопрос "}, "вопрос"},
		{domain.ReplyJob{Photos: make([]domain.PhotoRef, 3)}, "[фото: 3]"},
		{domain.ReplyJob{Text: "что это", Photos: make([]domain.PhotoRef, 1)}, "[фото: 1] что это"},
	}
	for _, tc := range cases {
		if got := userTurnText(tc.job); got != tc.want {
			t.Fatalf("userTurnText(%+v) = %q, ожидали %q", tc.job, got, tc.want)
		}
	}
}
