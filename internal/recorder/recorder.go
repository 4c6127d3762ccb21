package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/wsession/internal/connection"
	"github.com/rickgao/wsession/internal/events"
	"github.com/rickgao/wsession/internal/queue"
)

// Schema creates the session_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id          BIGSERIAL PRIMARY KEY,
	instance_id TEXT        NOT NULL,
	url         TEXT        NOT NULL,
	event       TEXT        NOT NULL,
	detail      JSONB       NOT NULL DEFAULT '{}',
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_events_url_time ON session_events (url, occurred_at);
`

const insertEvent = `
	INSERT INTO session_events (instance_id, url, event, detail, occurred_at)
	VALUES ($1, $2, $3, $4, $5)
`

// Batcher sends queued statements in one round trip. *pgxpool.Pool
// satisfies it.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Execer runs a single statement.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the session_events table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create session_events: %w", err)
	}
	return nil
}

// Config configures a Recorder.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics counts recorder activity.
type Metrics struct {
	Received   int64
	Inserts    int64
	Flushes    int64
	Errors     int64
	Buffered   int // Events waiting for the consumer
	BufferPeak int
}

type eventRow struct {
	InstanceID string
	URL        string
	Event      string
	Detail     []byte
	OccurredAt time.Time
}

// Recorder writes session lifecycle events to the session_events table.
type Recorder struct {
	cfg        Config
	instanceID string
	logger     *slog.Logger

	input *queue.Growable[eventRow]
	db    Batcher

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a Recorder.
func New(cfg Config, db Batcher, instanceID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
		input:      queue.NewGrowable[eventRow](cfg.BufferSize),
		db:         db,
		batch:      make([]eventRow, 0, cfg.BatchSize),
	}
}

var recorded = []events.Name{
	events.Opened,
	events.Authenticated,
	events.Closed,
	events.Reconnecting,
	events.Error,
}

// Observe records lifecycle events of s until the returned function is
// called.
func (r *Recorder) Observe(s *connection.Session) (func(), error) {
	url := s.URL()
	listeners := make(map[events.Name]*events.Listener, len(recorded))
	detach := func() {
		for name, l := range listeners {
			s.Off(name, l)
		}
	}

	for _, name := range recorded {
		l, err := s.On(name, func(ev events.Event) { r.Record(url, ev) })
		if err != nil {
			detach()
			return nil, err
		}
		listeners[name] = l
	}
	return detach, nil
}

// Record queues one event. It never blocks.
func (r *Recorder) Record(url string, ev events.Event) {
	row, err := r.transform(url, ev)
	if err != nil {
		r.logger.Warn("drop session event", "event", ev.Name, "error", err)
		return
	}
	if !r.input.Send(row) {
		return
	}
	r.batchMu.Lock()
	r.metrics.Received++
	r.batchMu.Unlock()
}

// Start begins consuming events and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("session recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events and writes the final batch.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping session recorder")

	r.input.Close()
	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("session recorder stop timed out")
	}

	// Whatever the consumer did not reach.
	for {
		row, ok := r.input.TryReceive()
		if !ok {
			break
		}
		r.append(row)
	}
	r.flush(ctx)

	r.logger.Info("session recorder stopped", "inserts", r.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	m := r.metrics
	r.batchMu.Unlock()

	input := r.input.Stats()
	m.Buffered = input.Len
	m.BufferPeak = input.Peak
	return m
}

func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			row, ok := r.input.TryReceive()
			if !ok {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			if r.append(row) {
				r.flush(r.ctx)
			}
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// append adds a row and reports whether the batch is full.
func (r *Recorder) append(row eventRow) bool {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	r.batch = append(r.batch, row)
	return len(r.batch) >= r.cfg.BatchSize
}

func (r *Recorder) transform(url string, ev events.Event) (eventRow, error) {
	detail := map[string]any{}
	switch p := ev.Payload.(type) {
	case connection.OpenedEvent:
		detail["total_attempts"] = p.Stats.TotalAttempts
	case connection.AuthenticatedEvent:
		detail["client_id"] = p.ClientID
	case connection.ClosedEvent:
		detail["code"] = p.Code
		detail["reason"] = p.Reason
		detail["was_clean"] = p.WasClean
		detail["manual"] = p.Manual
		detail["uptime_ms"] = p.Stats.TotalUptime.Milliseconds()
	case connection.ReconnectingEvent:
		detail["attempt"] = p.Attempt
		detail["delay_ms"] = p.Delay.Milliseconds()
	case connection.ErrorEvent:
		detail["error"] = p.Err.Error()
		detail["fatal"] = p.Fatal
	}

	data, err := json.Marshal(detail)
	if err != nil {
		return eventRow{}, err
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return eventRow{
		InstanceID: r.instanceID,
		URL:        url,
		Event:      string(ev.Name),
		Detail:     data,
		OccurredAt: at,
	}, nil
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]eventRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	if ctx.Err() != nil {
		// Stop after cancel still needs to write.
		ctx = context.WithoutCancel(ctx)
	}

	start := time.Now()
	if err := r.batchInsert(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed session events", "count", len(batch), "duration", time.Since(start))
}

func (r *Recorder) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(insertEvent, row.InstanceID, row.URL, row.Event, row.Detail, row.OccurredAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
