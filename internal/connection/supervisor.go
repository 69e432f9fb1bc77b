package connection

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Supervisor schedules reconnection attempts for failed sessions. Per
// connection name at most one retry is scheduled or in-flight at a time;
// this map-plus-timer state is the one shared lock in the design.
type Supervisor struct {
	logger    *slog.Logger
	policy    func(name string) (ReconnectPolicy, bool)
	reconnect func(name string)

	mu       sync.Mutex
	attempts map[string]int
	timers   map[string]*time.Timer
	stopped  bool

	// Collapses a scheduled retry racing a concurrent trigger for the
	// same name into a single connect attempt.
	flight singleflight.Group
}

func newSupervisor(logger *slog.Logger, policy func(string) (ReconnectPolicy, bool), reconnect func(string)) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:    logger,
		policy:    policy,
		reconnect: reconnect,
		attempts:  make(map[string]int),
		timers:    make(map[string]*time.Timer),
	}
}

// OnFailure reacts to an Error or unexpected Disconnected transition. It
// schedules one retry after the policy delay, up to MaxAttempts per failure
// episode. After exhaustion the connection stays put until a manual connect
// or a config update resets the counter.
func (v *Supervisor) OnFailure(name, detail string, authFailure bool) {
	pol, ok := v.policy(name)
	if !ok || !pol.AutoReconnect {
		return
	}
	if authFailure && !pol.RetryOnAuthFailure {
		v.logger.Info("not retrying after credential rejection",
			"connection", name,
			"detail", detail,
		)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.stopped {
		return
	}
	if _, scheduled := v.timers[name]; scheduled {
		return
	}

	v.attempts[name]++
	attempt := v.attempts[name]
	if attempt > pol.MaxAttempts {
		v.logger.Warn("reconnect attempts exhausted",
			"connection", name,
			"max_attempts", pol.MaxAttempts,
		)
		return
	}

	v.logger.Info("scheduling reconnect",
		"connection", name,
		"attempt", attempt,
		"max_attempts", pol.MaxAttempts,
		"delay", pol.Delay,
	)

	v.timers[name] = time.AfterFunc(pol.Delay, func() {
		v.mu.Lock()
		delete(v.timers, name)
		stopped := v.stopped
		v.mu.Unlock()
		if stopped {
			return
		}

		v.flight.Do(name, func() (any, error) {
			v.reconnect(name)
			return nil, nil
		})
	})
}

// Reset clears the attempt counter and cancels any scheduled retry. Called
// on manual connect/disconnect, config update, and removal.
func (v *Supervisor) Reset(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t, scheduled := v.timers[name]; scheduled {
		t.Stop()
		delete(v.timers, name)
	}
	delete(v.attempts, name)
}

// Attempts returns the current attempt count for a name.
func (v *Supervisor) Attempts(name string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attempts[name]
}

// Stop cancels all scheduled retries; no further ones are accepted.
func (v *Supervisor) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.stopped = true
	for name, t := range v.timers {
		t.Stop()
		delete(v.timers, name)
	}
}
