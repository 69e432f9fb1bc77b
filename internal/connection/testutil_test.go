package connection

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reStrike-d-o-o/obslink/internal/model"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// v5Peer configures a mock obs-websocket 5.x peer.
type v5Peer struct {
	challenge string
	salt      string
	wantToken string         // reject any other token with close code 4009
	silent    bool           // accept the socket, never speak
	responses map[string]any // responseData per requestType
}

// newV5Server runs a mock v5 peer: Hello, read Identify, Identified, then
// answer requests until the client hangs up.
func newV5Server(t *testing.T, peer v5Peer) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if peer.silent {
			conn.ReadMessage()
			return
		}

		helloD := map[string]any{
			"obsWebSocketVersion": "5.1.0",
			"rpcVersion":          1,
		}
		if peer.challenge != "" {
			helloD["authentication"] = map[string]string{
				"challenge": peer.challenge,
				"salt":      peer.salt,
			}
		}
		if err := conn.WriteJSON(map[string]any{"op": 0, "d": helloD}); err != nil {
			return
		}

		var ident struct {
			Op int `json:"op"`
			D  struct {
				RPCVersion     int     `json:"rpcVersion"`
				Authentication *string `json:"authentication"`
			} `json:"d"`
		}
		if err := conn.ReadJSON(&ident); err != nil {
			return
		}
		if peer.wantToken != "" {
			if ident.D.Authentication == nil || *ident.D.Authentication != peer.wantToken {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(4009, "authentication failed"),
					time.Now().Add(time.Second))
				return
			}
		}
		if err := conn.WriteJSON(map[string]any{"op": 2, "d": map[string]any{"negotiatedRpcVersion": 1}}); err != nil {
			return
		}

		for {
			var req struct {
				Op int `json:"op"`
				D  struct {
					RequestType string `json:"requestType"`
					RequestID   string `json:"requestId"`
				} `json:"d"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Op != 6 {
				continue
			}

			resp := map[string]any{
				"requestType": req.D.RequestType,
				"requestId":   req.D.RequestID,
			}
			if data, ok := peer.responses[req.D.RequestType]; ok {
				resp["requestStatus"] = map[string]any{"result": true, "code": 100}
				resp["responseData"] = data
			} else {
				resp["requestStatus"] = map[string]any{
					"result": false, "code": 204, "comment": "unknown request type",
				}
			}
			if err := conn.WriteJSON(map[string]any{"op": 7, "d": resp}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// v4Peer configures a mock obs-websocket 4.x peer.
type v4Peer struct {
	authError string                    // non-empty: every reply carries this error
	fields    map[string]map[string]any // extra reply fields per request-type
}

// newV4Server runs a mock v4 peer answering requests until the client hangs up.
func newV4Server(t *testing.T, peer v4Peer) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req struct {
				RequestType string `json:"request-type"`
				MessageID   string `json:"message-id"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			resp := map[string]any{"message-id": req.MessageID}
			if peer.authError != "" {
				resp["status"] = "error"
				resp["error"] = peer.authError
			} else {
				resp["status"] = "ok"
				for k, v := range peer.fields[req.RequestType] {
					resp[k] = v
				}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// serverConfig builds a connection config pointing at a test server.
func serverConfig(t *testing.T, srv *httptest.Server, proto model.Protocol, password string) Config {
	t.Helper()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split server address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return Config{
		Name:     "test",
		Host:     host,
		Port:     port,
		Password: password,
		Protocol: proto,
	}
}

// testManagerConfig returns manager defaults tightened for tests.
func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.PingInterval = 0
	return cfg
}

// stateRecorder collects state transitions from a session's notify callback.
type stateRecorder struct {
	mu      sync.Mutex
	changes []model.StateChange
	ch      chan model.StateChange
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan model.StateChange, 32)}
}

func (r *stateRecorder) record(change model.StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()

	select {
	case r.ch <- change:
	default:
	}
}

// waitFor blocks until the given state is observed.
func (r *stateRecorder) waitFor(t *testing.T, state model.ConnectionState, timeout time.Duration) model.StateChange {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case c := <-r.ch:
			if c.State == state {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s; saw %v", state, r.states())
			return model.StateChange{}
		}
	}
}

func (r *stateRecorder) states() []model.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]model.ConnectionState, len(r.changes))
	for i, c := range r.changes {
		states[i] = c.State
	}
	return states
}

func (r *stateRecorder) count(state model.ConnectionState) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.changes {
		if c.State == state {
			n++
		}
	}
	return n
}

// waitEvent reads a manager's event stream until the wanted state appears.
func waitEvent(t *testing.T, events <-chan model.StateChange, name string, state model.ConnectionState, timeout time.Duration) model.StateChange {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case c := <-events:
			if c.Name == name && c.State == state {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event on %q", state, name)
			return model.StateChange{}
		}
	}
}
