package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reStrike-d-o-o/obslink/internal/auth"
	"github.com/reStrike-d-o-o/obslink/internal/model"
	"github.com/reStrike-d-o-o/obslink/internal/protocol"
)

// Session binds one connection config to one socket and one state machine.
// All state transitions happen on the session's own run loop, so every
// transition is emitted exactly once and no stale listener can fire after a
// step resolves.
type Session struct {
	cfg    Config
	mcfg   ManagerConfig
	logger *slog.Logger
	notify func(model.StateChange)

	client *Client

	mu         sync.Mutex
	state      model.ConnectionState
	errDetail  string
	authFailed bool
	userClosed bool

	// In-flight request waiters, keyed by request id. At most one waiter
	// per id; waiters are dropped on disconnect so late responses are
	// discarded, not applied.
	pendingMu sync.Mutex
	pending   map[string]chan Reply

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(cfg Config, mcfg ManagerConfig, logger *slog.Logger, notify func(model.StateChange)) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		mcfg:    mcfg,
		logger:  logger.With("connection", cfg.Name),
		notify:  notify,
		state:   model.StateDisconnected,
		pending: make(map[string]chan Reply),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns the connection name.
func (s *Session) Name() string { return s.cfg.Name }

// Protocol returns the protocol version this session speaks.
func (s *Session) Protocol() model.Protocol { return s.cfg.Protocol }

// State returns the current lifecycle state.
func (s *Session) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorDetail returns the human-readable detail of the last error state.
func (s *Session) ErrorDetail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errDetail
}

// AuthFailed reports whether the session ended with an explicit credential
// rejection, as opposed to a timeout or transport failure.
func (s *Session) AuthFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailed
}

// UserClosed reports whether Close was requested by the owner, which makes
// the final Disconnected transition expected rather than a failure.
func (s *Session) UserClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userClosed
}

// Start launches the session's run loop.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Close synchronously closes the socket and drops all pending waiters, so no
// late callback can touch a session that no longer exists. The run loop
// transitions to Disconnected shortly after.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.userClosed = true
		client := s.client
		s.mu.Unlock()

		close(s.stop)
		if client != nil {
			client.Close()
		}
		s.clearPending()
	})
}

// Done is closed when the run loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Request sends one protocol request and waits for the matching response.
// Each request carries a fresh unique id; the reply is matched by that id.
func (s *Session) Request(ctx context.Context, requestType string) (Reply, error) {
	s.mu.Lock()
	client := s.client
	ready := s.state.Ready()
	s.mu.Unlock()
	if !ready || client == nil {
		return Reply{}, ErrNotReady
	}

	id := uuid.NewString()

	var data []byte
	var err error
	switch s.cfg.Protocol {
	case model.ProtocolV5:
		data, err = protocol.Encode(protocol.OpRequest, protocol.Request{
			RequestType: requestType,
			RequestID:   id,
		})
	case model.ProtocolV4:
		data, err = protocol.EncodeV4Request(requestType, id, nil)
	default:
		return Reply{}, ErrUnknownProtocolVersion
	}
	if err != nil {
		return Reply{}, fmt.Errorf("encode %s: %w", requestType, err)
	}

	ch := make(chan Reply, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := client.Send(data); err != nil {
		return Reply{}, err
	}

	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-s.done:
		return Reply{}, ErrNotReady
	case reply := <-ch:
		return reply, nil
	}
}

// run drives the session to a terminal state: connect, handshake, then the
// ready loop until stop or transport failure.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	s.transition(model.StateConnecting, "")

	if !s.cfg.Protocol.Valid() {
		// No socket is opened for an unknown version.
		s.fail(detailUnknownProtocol, false)
		return
	}

	client := NewClient(ClientConfig{
		URL:          s.cfg.URL(),
		DialTimeout:  s.mcfg.HandshakeTimeout,
		WriteTimeout: s.mcfg.WriteTimeout,
		PingInterval: s.mcfg.PingInterval,
		BufferSize:   s.mcfg.BufferSize,
	}, s.logger)

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		select {
		case <-s.stop:
			s.transition(model.StateDisconnected, "")
		default:
			s.fail(err.Error(), false)
		}
		return
	}
	defer client.Close()

	deadline := time.NewTimer(s.mcfg.HandshakeTimeout)
	defer deadline.Stop()

	var ok bool
	switch s.cfg.Protocol {
	case model.ProtocolV5:
		ok = s.handshakeV5(deadline.C)
	case model.ProtocolV4:
		ok = s.handshakeV4(deadline.C)
	}
	if !ok {
		return
	}

	s.transition(model.StateAuthenticated, "")
	s.readyLoop()
}

// handshakeV5 drives Hello -> Identify -> Identified. Malformed or
// unexpected messages are logged and skipped; the deadline converts silence
// into a timeout.
func (s *Session) handshakeV5(deadline <-chan time.Time) bool {
	var hello protocol.Hello

awaitHello:
	for {
		select {
		case <-s.stop:
			s.transition(model.StateDisconnected, "")
			return false
		case <-deadline:
			s.fail(detailConnectionTimeout, false)
			return false
		case err := <-s.client.Errors():
			s.fail(err.Error(), false)
			return false
		case f := <-s.client.Frames():
			env, err := protocol.DecodeEnvelope(f.Data)
			if err != nil {
				s.logger.Warn("malformed message during handshake", "error", err)
				continue
			}
			if env.Op != protocol.OpHello {
				s.logger.Debug("ignoring pre-hello message", "op", env.Op)
				continue
			}
			hello, err = protocol.DecodeHello(env.D)
			if err != nil {
				s.logger.Warn("malformed hello", "error", err)
				continue
			}
			break awaitHello
		}
	}

	ident := protocol.Identify{RPCVersion: 1, EventSubscriptions: 0}
	authRequired := hello.Authentication != nil && s.cfg.Password != ""
	if authRequired {
		s.transition(model.StateAuthenticating, "")
		token := auth.SolveChallenge(s.cfg.Password, hello.Authentication.Challenge, hello.Authentication.Salt)
		ident.Authentication = &token
	}

	data, err := protocol.Encode(protocol.OpIdentify, ident)
	if err != nil {
		s.fail(err.Error(), false)
		return false
	}
	if err := s.client.Send(data); err != nil {
		s.fail(err.Error(), authRequired)
		return false
	}

	for {
		select {
		case <-s.stop:
			s.transition(model.StateDisconnected, "")
			return false
		case <-deadline:
			s.fail(detailConnectionTimeout, false)
			return false
		case err := <-s.client.Errors():
			// A rejection after Identify (e.g. close 4009) is a
			// credential failure, not a transport hiccup.
			if authRequired {
				s.fail("Authentication failed: "+err.Error(), true)
			} else {
				s.fail(err.Error(), false)
			}
			return false
		case f := <-s.client.Frames():
			env, err := protocol.DecodeEnvelope(f.Data)
			if err != nil {
				s.logger.Warn("malformed message during handshake", "error", err)
				continue
			}
			if env.Op != protocol.OpIdentified {
				s.logger.Debug("ignoring pre-identified message", "op", env.Op)
				continue
			}
			if _, err := protocol.DecodeIdentified(env.D); err != nil {
				s.logger.Warn("malformed identified", "error", err)
				continue
			}
			return true
		}
	}
}

// handshakeV4 sends a GetVersion probe; any reply without error fields means
// the peer accepts us, an error field means authentication is required or
// rejected.
func (s *Session) handshakeV4(deadline <-chan time.Time) bool {
	probeID := uuid.NewString()
	probe, err := protocol.EncodeV4Request("GetVersion", probeID, nil)
	if err != nil {
		s.fail(err.Error(), false)
		return false
	}
	if err := s.client.Send(probe); err != nil {
		s.fail(err.Error(), false)
		return false
	}

	for {
		select {
		case <-s.stop:
			s.transition(model.StateDisconnected, "")
			return false
		case <-deadline:
			s.fail(detailConnectionTimeout, false)
			return false
		case err := <-s.client.Errors():
			s.fail(err.Error(), false)
			return false
		case f := <-s.client.Frames():
			resp, err := protocol.DecodeV4Response(f.Data)
			if err != nil {
				s.logger.Warn("malformed message during handshake", "error", err)
				continue
			}
			if resp.MessageID != probeID {
				s.logger.Debug("ignoring unrelated v4 message", "message_id", resp.MessageID)
				continue
			}
			if resp.Failed() {
				s.fail("V4 authentication failed: "+resp.Detail(), true)
				return false
			}
			return true
		}
	}
}

// readyLoop routes responses to waiters until the session ends.
func (s *Session) readyLoop() {
	for {
		select {
		case <-s.stop:
			s.clearPending()
			s.transition(model.StateDisconnected, "")
			return
		case err := <-s.client.Errors():
			s.clearPending()
			if ce, isClose := err.(*websocket.CloseError); isClose && ce.Code == websocket.CloseNormalClosure {
				s.transition(model.StateDisconnected, "")
			} else {
				s.fail(err.Error(), false)
			}
			return
		case f := <-s.client.Frames():
			s.route(f.Data)
		}
	}
}

// route matches an inbound message to its pending waiter by request id.
// Unsolicited messages (v5 events, v4 update broadcasts) are ignored here.
func (s *Session) route(data []byte) {
	switch s.cfg.Protocol {
	case model.ProtocolV5:
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			s.logger.Warn("malformed message", "error", err)
			return
		}
		if env.Op != protocol.OpRequestResponse {
			return
		}
		rr, err := protocol.DecodeRequestResponse(env.D)
		if err != nil {
			s.logger.Warn("malformed request response", "error", err)
			return
		}
		s.deliver(rr.RequestID, Reply{V5: &rr})

	case model.ProtocolV4:
		resp, err := protocol.DecodeV4Response(data)
		if err != nil {
			s.logger.Warn("malformed message", "error", err)
			return
		}
		if resp.MessageID == "" {
			return
		}
		s.deliver(resp.MessageID, Reply{V4: &resp})
	}
}

func (s *Session) deliver(id string, reply Reply) {
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Debug("dropping unmatched response", "request_id", id)
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

func (s *Session) clearPending() {
	s.pendingMu.Lock()
	for id := range s.pending {
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()
}

func (s *Session) fail(detail string, authFailure bool) {
	s.mu.Lock()
	s.errDetail = detail
	s.authFailed = authFailure
	s.mu.Unlock()
	s.transition(model.StateError, detail)
}

func (s *Session) transition(state model.ConnectionState, detail string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if s.notify != nil {
		s.notify(model.StateChange{
			Name:        s.cfg.Name,
			State:       state,
			ErrorDetail: detail,
			At:          time.Now(),
		})
	}
}
