package connection

import (
	"fmt"
	"sync"

	"github.com/reStrike-d-o-o/obslink/internal/model"
)

// entry pairs a connection config with its current session (nil when no
// socket has been spawned) and the last observed state.
type entry struct {
	cfg       Config
	sess      *Session
	state     model.ConnectionState
	errDetail string
}

// registry holds the set of named connection configurations. Names are
// unique at all times; the name is the only immutable field.
type registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

// add stores a new config with initial state Disconnected.
func (r *registry) add(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[cfg.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, cfg.Name)
	}
	r.entries[cfg.Name] = &entry{cfg: cfg, state: model.StateDisconnected}
	return nil
}

// remove deletes a config and returns the session that must be torn down,
// if any.
func (r *registry) remove(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.entries, name)
	return e.sess, nil
}

// update applies a patch to a config. Active sessions keep their old values
// until the next reconnect.
func (r *registry) update(name string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	next := patch.apply(e.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	e.cfg = next
	return nil
}

// config returns a copy of the named config.
func (r *registry) config(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return Config{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.cfg, nil
}

// session returns the live session for a name, nil if none.
func (r *registry) session(name string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, exists := r.entries[name]; exists {
		return e.sess
	}
	return nil
}

// setSession swaps in a new session for a name. The displaced session, if
// any, is returned for the caller to close: the swap and the read are one
// critical section, so two racing spawns cannot both miss the same old
// session. Reports false when the name no longer exists.
func (r *registry) setSession(name string, sess *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	old := e.sess
	e.sess = sess
	return old, true
}

// observe records the latest state change for a name. Returns false for
// stale events: the connection was removed, or the emitting session has
// already been replaced by a newer one.
func (r *registry) observe(from *Session, change model.StateChange) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[change.Name]
	if !exists || e.sess != from {
		return false
	}
	e.state = change.State
	e.errDetail = change.ErrorDetail
	return true
}

// sessions returns all live sessions.
func (r *registry) sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Session
	for _, e := range r.entries {
		if e.sess != nil {
			all = append(all, e.sess)
		}
	}
	return all
}

// info returns the external view of one connection.
func (r *registry) info(name string) (model.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entries[name]
	if !exists {
		return model.Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return e.cfg.Info(e.state, e.errDetail), nil
}

// list returns all connections with their current state. Side-effect free.
func (r *registry) list() []model.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]model.Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.cfg.Info(e.state, e.errDetail))
	}
	return infos
}

// readySessions returns every session eligible for polling.
func (r *registry) readySessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ready []*Session
	for _, e := range r.entries {
		if e.sess != nil && e.sess.State().Ready() {
			ready = append(ready, e.sess)
		}
	}
	return ready
}
