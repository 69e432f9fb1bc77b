package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/reStrike-d-o-o/obslink/internal/connection"
	"github.com/reStrike-d-o-o/obslink/internal/metrics"
	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// Source provides the sessions to poll.
type Source interface {
	ReadySessions() []*connection.Session
}

// SnapshotHandler receives each rebuilt snapshot.
type SnapshotHandler interface {
	HandleSnapshot(snapshot model.StatusSnapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.StatusSnapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s model.StatusSnapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval       time.Duration // Poll interval (default: 30s)
	RequestTimeout time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Poller periodically rebuilds the aggregate status snapshot from all ready
// sessions.
type Poller struct {
	cfg     Config
	source  Source
	handler SnapshotHandler
	metrics *metrics.Registry
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller. The metrics registry may be nil.
func New(cfg Config, source Source, handler SnapshotHandler, reg *metrics.Registry, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		metrics: reg,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("status poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("status poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll queries every ready session concurrently and merges the results
// into one snapshot, in name order so the active recorder designation is
// stable.
func (p *Poller) pollAll() {
	start := time.Now()

	sessions := p.source.ReadySessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Name() < sessions[j].Name()
	})

	results := make([]*model.ConnectionStatus, len(sessions))
	var wg sync.WaitGroup
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *connection.Session) {
			defer wg.Done()

			cs, err := p.pollSession(sess)
			if err != nil {
				p.logger.Warn("failed to poll session",
					"connection", sess.Name(),
					"error", err,
				)
				if p.metrics != nil {
					p.metrics.PollErrors.Inc()
				}
				return
			}
			results[i] = &cs
		}(i, sess)
	}
	wg.Wait()

	snap := model.StatusSnapshot{TakenAt: start}
	for _, cs := range results {
		if cs != nil {
			snap.Merge(*cs)
		}
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(snap); err != nil {
			p.logger.Warn("snapshot handler failed", "error", err)
		}
	}

	if p.metrics != nil {
		p.metrics.PollCycles.Inc()
		p.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}

	p.logger.Debug("poll cycle complete",
		"sessions", len(sessions),
		"recording", snap.IsRecording,
		"streaming", snap.IsStreaming,
		"duration", time.Since(start),
	)
}

// pollSession fetches record, stream and stats status from one session.
// The timeout is clamped to the interval so a hung peer abandons its cycle
// instead of pushing the next tick out.
func (p *Poller) pollSession(sess *connection.Session) (model.ConnectionStatus, error) {
	timeout := p.cfg.RequestTimeout
	if p.cfg.Interval > 0 && timeout > p.cfg.Interval {
		timeout = p.cfg.Interval
	}
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	switch sess.Protocol() {
	case model.ProtocolV5:
		return p.pollV5(ctx, sess)
	case model.ProtocolV4:
		return p.pollV4(ctx, sess)
	}
	return model.ConnectionStatus{}, connection.ErrUnknownProtocolVersion
}

func (p *Poller) pollV5(ctx context.Context, sess *connection.Session) (model.ConnectionStatus, error) {
	cs := model.ConnectionStatus{Name: sess.Name(), PolledAt: time.Now()}

	record, err := v5Data(sess.Request(ctx, "GetRecordStatus"))
	if err != nil {
		return cs, fmt.Errorf("record status: %w", err)
	}
	var rec struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(record, &rec); err != nil {
		return cs, fmt.Errorf("record status: %w", err)
	}
	cs.Recording = rec.OutputActive

	stream, err := v5Data(sess.Request(ctx, "GetStreamStatus"))
	if err != nil {
		return cs, fmt.Errorf("stream status: %w", err)
	}
	var str struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(stream, &str); err != nil {
		return cs, fmt.Errorf("stream status: %w", err)
	}
	cs.Streaming = str.OutputActive

	stats, err := v5Data(sess.Request(ctx, "GetStats"))
	if err != nil {
		return cs, fmt.Errorf("stats: %w", err)
	}
	var st struct {
		CPUUsage float64 `json:"cpuUsage"`
	}
	if err := json.Unmarshal(stats, &st); err != nil {
		return cs, fmt.Errorf("stats: %w", err)
	}
	cs.CPUUsage = st.CPUUsage

	// Replay buffer may simply be disabled on the instance; a failed
	// request means inactive, not a broken cycle.
	if replay, err := v5Data(sess.Request(ctx, "GetReplayBufferStatus")); err == nil {
		var rb struct {
			OutputActive bool `json:"outputActive"`
		}
		if json.Unmarshal(replay, &rb) == nil {
			cs.ReplayBufferActive = rb.OutputActive
		}
	}

	return cs, nil
}

func (p *Poller) pollV4(ctx context.Context, sess *connection.Session) (model.ConnectionStatus, error) {
	cs := model.ConnectionStatus{Name: sess.Name(), PolledAt: time.Now()}

	status, err := v4Raw(sess.Request(ctx, "GetStreamingStatus"))
	if err != nil {
		return cs, fmt.Errorf("streaming status: %w", err)
	}
	var ss struct {
		Streaming bool `json:"streaming"`
		Recording bool `json:"recording"`
	}
	if err := json.Unmarshal(status, &ss); err != nil {
		return cs, fmt.Errorf("streaming status: %w", err)
	}
	cs.Streaming = ss.Streaming
	cs.Recording = ss.Recording

	stats, err := v4Raw(sess.Request(ctx, "GetStats"))
	if err != nil {
		return cs, fmt.Errorf("stats: %w", err)
	}
	var st struct {
		Stats struct {
			CPUUsage float64 `json:"cpu-usage"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(stats, &st); err != nil {
		return cs, fmt.Errorf("stats: %w", err)
	}
	cs.CPUUsage = st.Stats.CPUUsage

	return cs, nil
}

// v5Data unwraps a v5 reply into its response data, converting a rejected
// request into an error.
func v5Data(reply connection.Reply, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if reply.V5 == nil {
		return nil, fmt.Errorf("missing v5 response")
	}
	if !reply.V5.RequestStatus.Result {
		return nil, fmt.Errorf("request rejected: %s (code %d)",
			reply.V5.RequestStatus.Comment, reply.V5.RequestStatus.Code)
	}
	return reply.V5.ResponseData, nil
}

// v4Raw unwraps a v4 reply into the full message, converting an error reply
// into an error.
func v4Raw(reply connection.Reply, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if reply.V4 == nil {
		return nil, fmt.Errorf("missing v4 response")
	}
	if reply.V4.Failed() {
		return nil, fmt.Errorf("request failed: %s", reply.V4.Detail())
	}
	return reply.V4.Raw, nil
}
