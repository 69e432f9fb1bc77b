package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// Config holds writer settings.
type Config struct {
	BatchSize     int           // Rows per batch (default: 100)
	FlushInterval time.Duration // Max time rows sit unflushed (default: 1s)
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// eventRow is a connection state transition as stored.
type eventRow struct {
	EventID     uuid.UUID
	Name        string
	State       string
	ErrorDetail string
	At          int64 // µs since epoch
}

// statusRow is one connection's polled status as stored.
type statusRow struct {
	TakenAt        int64 // µs since epoch
	Name           string
	Recording      bool
	Streaming      bool
	ReplayBuffer   bool
	CPUUsage       float64
	ActiveRecorder bool
}

// Writer persists state transitions and poll snapshots in batches.
type Writer struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	batchMu sync.Mutex
	events  []eventRow
	status  []statusRow
	metrics Metrics

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a history writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		events: make([]eventRow, 0, cfg.BatchSize),
		status: make([]statusRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop flushes remaining rows and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	// Final flush
	w.flush()
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// RecordStateChange queues one state transition.
func (w *Writer) RecordStateChange(change model.StateChange) {
	row := transformEvent(change)

	w.batchMu.Lock()
	w.events = append(w.events, row)
	shouldFlush := len(w.events) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// RecordSnapshot queues one row per polled connection.
func (w *Writer) RecordSnapshot(snap model.StatusSnapshot) {
	rows := transformSnapshot(snap)
	if len(rows) == 0 {
		return
	}

	w.batchMu.Lock()
	w.status = append(w.status, rows...)
	shouldFlush := len(w.status) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

func transformEvent(change model.StateChange) eventRow {
	return eventRow{
		EventID:     uuid.New(),
		Name:        change.Name,
		State:       string(change.State),
		ErrorDetail: change.ErrorDetail,
		At:          change.At.UnixMicro(),
	}
}

func transformSnapshot(snap model.StatusSnapshot) []statusRow {
	rows := make([]statusRow, 0, len(snap.Connections))
	for _, cs := range snap.Connections {
		rows = append(rows, statusRow{
			TakenAt:        snap.TakenAt.UnixMicro(),
			Name:           cs.Name,
			Recording:      cs.Recording,
			Streaming:      cs.Streaming,
			ReplayBuffer:   cs.ReplayBufferActive,
			CPUUsage:       cs.CPUUsage,
			ActiveRecorder: cs.Name == snap.ActiveRecorder,
		})
	}
	return rows
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// flush writes both pending batches to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.events) == 0 && len(w.status) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batches
	events := w.events
	status := w.status
	w.events = make([]eventRow, 0, w.cfg.BatchSize)
	w.status = make([]statusRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(events, status); err != nil {
		w.logger.Error("batch insert failed",
			"error", err,
			"events", len(events),
			"status_rows", len(status),
		)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(events) + len(status))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed history",
		"events", len(events),
		"status_rows", len(status),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(events []eventRow, status []statusRow) error {
	batch := &pgx.Batch{}
	for _, r := range events {
		batch.Queue(`
			INSERT INTO connection_events (event_id, connection, state, error_detail, at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, r.EventID, r.Name, r.State, r.ErrorDetail, r.At)
	}
	for _, r := range status {
		batch.Queue(`
			INSERT INTO status_history (taken_at, connection, recording, streaming, replay_buffer, cpu_usage, active_recorder)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (connection, taken_at) DO NOTHING
		`, r.TakenAt, r.Name, r.Recording, r.Streaming, r.ReplayBuffer, r.CPUUsage, r.ActiveRecorder)
	}

	// Not the writer's run context: the final flush happens after Stop has
	// cancelled it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
