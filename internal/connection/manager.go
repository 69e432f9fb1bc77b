package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reStrike-d-o-o/obslink/internal/metrics"
	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// Status is the result of GetStatus: the connection's external view plus
// the latest aggregate snapshot.
type Status struct {
	Info     model.Info
	Snapshot model.StatusSnapshot
}

// Manager composes the registry, sessions and reconnection supervisor, and
// exposes the command surface consumed by UI and orchestration layers.
// Failures surface as state change events, never as panics across this
// boundary.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Registry

	reg *registry
	sup *Supervisor

	events chan model.StateChange
	snaps  chan model.StatusSnapshot

	snapMu   sync.RWMutex
	snapshot model.StatusSnapshot

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a connection manager. The metrics registry may be nil.
func NewManager(cfg ManagerConfig, logger *slog.Logger, reg *metrics.Registry) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
		reg:     newRegistry(),
		events:  make(chan model.StateChange, cfg.EventBufferSize),
		snaps:   make(chan model.StatusSnapshot, 16),
	}
	m.sup = newSupervisor(logger, m.policyFor, m.respawn)
	return m
}

// Start prepares the manager for spawning sessions.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("connection manager started")
	return nil
}

// Stop closes every session and waits for their loops to exit, bounded by
// ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.sup.Stop()
	if m.cancel != nil {
		m.cancel()
	}

	sessions := m.reg.sessions()
	for _, sess := range sessions {
		sess.Close()
	}

	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			m.logger.Warn("shutdown timeout, abandoning sessions")
			return ctx.Err()
		}
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// AddConnection registers a new named connection. Fails with
// ErrDuplicateName if the name is taken; connects immediately when the
// config is enabled.
func (m *Manager) AddConnection(cfg Config) error {
	if err := m.reg.add(cfg); err != nil {
		return err
	}

	m.logger.Info("connection added",
		"connection", cfg.Name,
		"host", cfg.Host,
		"port", cfg.Port,
		"protocol", cfg.Protocol,
		"has_password", cfg.Password != "",
	)

	if cfg.Enabled {
		m.spawn(cfg.Name)
	}
	return nil
}

// RemoveConnection deletes a connection, disconnecting its session first if
// it is not already terminal. No dangling sockets survive removal.
func (m *Manager) RemoveConnection(name string) error {
	sess, err := m.reg.remove(name)
	if err != nil {
		return err
	}
	m.sup.Reset(name)
	if sess != nil {
		sess.Close()
	}

	m.logger.Info("connection removed", "connection", name)
	return nil
}

// UpdateConnection patches a connection config. The name is immutable; an
// active session picks the new values up on its next reconnect. Updating
// also re-arms a connection whose retry budget was exhausted.
func (m *Manager) UpdateConnection(name string, patch Patch) error {
	if err := m.reg.update(name, patch); err != nil {
		return err
	}
	m.sup.Reset(name)

	m.logger.Info("connection updated", "connection", name)
	return nil
}

// Connect starts (or restarts) a session. The call is an acknowledgement
// only; progress arrives through state change events. A manual connect
// resets the reconnection attempt counter.
func (m *Manager) Connect(name string) error {
	if _, err := m.reg.config(name); err != nil {
		return err
	}
	m.sup.Reset(name)
	m.spawn(name)
	return nil
}

// Disconnect closes the session's socket; the state settles at
// Disconnected. Any scheduled retry is cancelled.
func (m *Manager) Disconnect(name string) error {
	if _, err := m.reg.config(name); err != nil {
		return err
	}
	m.sup.Reset(name)

	sess := m.reg.session(name)
	if sess == nil {
		return nil
	}
	if !sess.State().Terminal() {
		sess.Close()
		return nil
	}

	// A session already terminal in Error has no run loop left to emit the
	// transition, so the state is settled here.
	if sess.State() == model.StateError {
		change := model.StateChange{Name: name, State: model.StateDisconnected, At: time.Now()}
		if m.reg.observe(sess, change) {
			m.publish(change)
		}
	}
	return nil
}

// GetStatus returns the connection's current state plus the latest
// aggregate status snapshot.
func (m *Manager) GetStatus(name string) (Status, error) {
	info, err := m.reg.info(name)
	if err != nil {
		return Status{}, err
	}
	return Status{Info: info, Snapshot: m.Snapshot()}, nil
}

// ListConnections returns all configs with their current state.
func (m *Manager) ListConnections() []model.Info {
	return m.reg.list()
}

// StateChanges returns the outbound event stream. Events are dropped, not
// blocked on, when the consumer falls behind.
func (m *Manager) StateChanges() <-chan model.StateChange {
	return m.events
}

// ReadySessions returns every session eligible for status polling.
func (m *Manager) ReadySessions() []*Session {
	return m.reg.readySessions()
}

// Snapshots returns the aggregate snapshot stream. Like StateChanges, a slow
// consumer loses intermediate snapshots; Snapshot always has the latest.
func (m *Manager) Snapshots() <-chan model.StatusSnapshot {
	return m.snaps
}

// PublishSnapshot stores the latest aggregate snapshot from the poller.
func (m *Manager) PublishSnapshot(snap model.StatusSnapshot) {
	m.snapMu.Lock()
	m.snapshot = snap
	m.snapMu.Unlock()

	select {
	case m.snaps <- snap:
	default:
	}

	if m.metrics != nil {
		m.metrics.RecordingActive.Set(boolGauge(snap.IsRecording))
		m.metrics.StreamingActive.Set(boolGauge(snap.IsStreaming))
	}
}

// Snapshot returns the latest aggregate snapshot.
func (m *Manager) Snapshot() model.StatusSnapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// spawn replaces any live session for name with a fresh one. The prior
// socket is always closed first.
func (m *Manager) spawn(name string) {
	if m.ctx == nil || m.ctx.Err() != nil {
		return
	}

	cfg, err := m.reg.config(name)
	if err != nil {
		// Removed while a retry was in flight.
		return
	}

	sess := newSession(cfg, m.cfg, m.logger, nil)
	sess.notify = func(change model.StateChange) {
		m.handleChange(sess, change)
	}

	old, ok := m.reg.setSession(name, sess)
	if !ok {
		return
	}
	if old != nil {
		// The displaced socket is closed before the new one dials.
		old.Close()
	}
	sess.Start(m.ctx)
}

// respawn is the supervisor's retry path; it does not reset the attempt
// counter.
func (m *Manager) respawn(name string) {
	m.logger.Info("reconnecting", "connection", name)
	if m.metrics != nil {
		m.metrics.ReconnectsScheduled.WithLabelValues(name).Inc()
	}
	m.spawn(name)
}

// policyFor computes the effective reconnect policy: manager defaults with
// per-connection overrides.
func (m *Manager) policyFor(name string) (ReconnectPolicy, bool) {
	cfg, err := m.reg.config(name)
	if err != nil {
		return ReconnectPolicy{}, false
	}

	pol := m.cfg.Reconnect
	if cfg.AutoReconnect != nil {
		pol.AutoReconnect = *cfg.AutoReconnect
	}
	if cfg.ReconnectDelay > 0 {
		pol.Delay = cfg.ReconnectDelay
	}
	if cfg.MaxAttempts > 0 {
		pol.MaxAttempts = cfg.MaxAttempts
	}
	return pol, true
}

// handleChange is the single sink for session state transitions.
func (m *Manager) handleChange(sess *Session, change model.StateChange) {
	if !m.reg.observe(sess, change) {
		// Stale event from a removed or replaced session.
		return
	}
	m.publish(change)

	switch change.State {
	case model.StateError:
		m.sup.OnFailure(change.Name, change.ErrorDetail, sess.AuthFailed())
	case model.StateDisconnected:
		if !sess.UserClosed() {
			m.sup.OnFailure(change.Name, "connection closed", false)
		}
	}
}

// publish records metrics for one state change and fans it out to the event
// stream without blocking.
func (m *Manager) publish(change model.StateChange) {
	if m.metrics != nil {
		m.metrics.StateTransitions.WithLabelValues(change.Name, string(change.State)).Inc()
		m.metrics.ReadySessions.Set(float64(len(m.reg.readySessions())))
	}

	select {
	case m.events <- change:
	default:
		m.logger.Warn("event buffer full, dropping state change",
			"connection", change.Name,
			"state", change.State,
		)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
