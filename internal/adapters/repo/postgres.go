package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tg-reply-bot/internal/domain"
	"tg-reply-bot/internal/infra/metrics"
)

// Postgres ведёт журнал доставки ответов в PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.DeliveryJournal = (*Postgres)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id           BIGSERIAL PRIMARY KEY,
	job_id       TEXT        NOT NULL,
	chat_id      BIGINT      NOT NULL,
	chunks       INT         NOT NULL,
	failed       INT[]       NOT NULL DEFAULT '{}',
	modes        TEXT[]      NOT NULL DEFAULT '{}',
	status       TEXT        NOT NULL,
	error        TEXT        NOT NULL DEFAULT '',
	delivered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS deliveries_chat_id_idx ON deliveries (chat_id, delivered_at DESC);
`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицу журнала, если её нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "deliveries", start, err)
	if err != nil {
		return fmt.Errorf("create deliveries table: %w", err)
	}
	return nil
}

// RecordDelivery реализует domain.DeliveryJournal.
func (p *Postgres) RecordDelivery(ctx context.Context, record domain.DeliveryRecord) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if record.DeliveredAt.IsZero() {
		record.DeliveredAt = time.Now().UTC()
	}
	failed, modes := journalColumns(record)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO deliveries (job_id, chat_id, chunks, failed, modes, status, error, delivered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, record.JobID, record.ChatID, record.Chunks, failed, modes, record.Status.String(), record.Error, record.DeliveredAt)
	metrics.ObserveNetworkRequest("postgres", "deliveries_insert", "deliveries", start, err)
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", record.JobID, err)
	}
	return nil
}

func journalColumns(record domain.DeliveryRecord) ([]int32, []string) {
	failed := make([]int32, 0, len(record.Failed))
	for _, idx := range record.Failed {
		failed = append(failed, int32(idx))
	}
	modes := make([]string, 0, len(record.Modes))
	for _, m := range record.Modes {
		modes = append(modes, m.String())
	}
	return failed, modes
}

// Nop ничего не сохраняет. Используется без PG_DSN.
type Nop struct{}

// RecordDelivery ничего не делает.
func (Nop) RecordDelivery(context.Context, domain.DeliveryRecord) error { return nil }
