package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	relayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_outbox_relayed_total",
		Help: "Listing events relayed from the outbox to NATS.",
	})
	relayFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_outbox_fail_total",
		Help: "Listing events that exhausted their publish retries.",
	})
	relayLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listing_outbox_lag_seconds",
		Help: "Age of the oldest event relayed in the last batch.",
	})
)

// WorkerConfig defines tunables for the relay.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
	// RetryBase is multiplied by attempt² between publish retries.
	RetryBase time.Duration
}

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Worker relays unpublished rows of the outbox table to NATS. Rows are
// claimed with FOR UPDATE SKIP LOCKED so several replicas can run it.
type Worker struct {
	db        *sql.DB
	publisher msgPublisher
	logger    *zap.Logger
	cfg       WorkerConfig
	tracer    trace.Tracer
}

// NewWorker constructs a relay worker.
func NewWorker(db *sql.DB, conn *nats.Conn, logger *zap.Logger, cfg WorkerConfig) *Worker {
	w := newWorker(db, nil, logger, cfg)
	if conn != nil {
		w.publisher = conn
	}
	return w
}

func newWorker(db *sql.DB, publisher msgPublisher, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		db:        db,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("listing.outbox.worker"),
	}
}

// Run relays batches until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.db == nil || w.publisher == nil {
		return errors.New("outbox worker requires database and NATS connection")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.RelayOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("outbox batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type pendingEvent struct {
	ID        int64
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// RelayOnce publishes one batch and marks it published in the same
// transaction that claimed it. It returns the number of relayed events.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	ctx, span := w.tracer.Start(ctx, "outbox.batch")
	defer span.End()

	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	pending, err := claimPending(ctx, tx, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, tx.Commit()
	}

	ids := make([]int64, 0, len(pending))
	oldest := 0.0
	for _, evt := range pending {
		if err := w.publishWithRetry(ctx, evt); err != nil {
			return 0, err
		}
		ids = append(ids, evt.ID)
		relayedTotal.Inc()
		if lag := time.Since(evt.CreatedAt).Seconds(); lag > oldest {
			oldest = lag
		}
	}
	relayLagSeconds.Set(oldest)

	if _, err := tx.ExecContext(ctx, `UPDATE outbox SET published = true WHERE id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(ids), nil
}

func claimPending(ctx context.Context, tx *sql.Tx, limit int) ([]pendingEvent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, topic, payload, created_at FROM outbox
		WHERE published = false ORDER BY id LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	defer rows.Close()

	var pending []pendingEvent
	for rows.Next() {
		var evt pendingEvent
		if err := rows.Scan(&evt.ID, &evt.Topic, &evt.Payload, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		pending = append(pending, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return pending, nil
}

func (w *Worker) publishWithRetry(ctx context.Context, evt pendingEvent) error {
	ctx, span := w.tracer.Start(ctx, "outbox.publish")
	defer span.End()
	if evt.Topic == "" {
		return fmt.Errorf("outbox event %d has no topic", evt.ID)
	}

	msg := nats.NewMsg(evt.Topic)
	msg.Data = evt.Payload
	var envelope struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(evt.Payload, &envelope) == nil && envelope.Type != "" {
		msg.Header.Set("x-event-type", envelope.Type)
	}
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}

	for attempt := 1; ; attempt++ {
		err := w.publisher.PublishMsg(msg)
		if err == nil {
			return nil
		}
		w.logger.Warn("publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.Int64("outbox_id", evt.ID))
		if attempt >= w.cfg.RetryMax {
			relayFailTotal.Inc()
			return fmt.Errorf("publish outbox %d: %w", evt.ID, err)
		}
		select {
		case <-time.After(time.Duration(attempt*attempt) * w.cfg.RetryBase):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
