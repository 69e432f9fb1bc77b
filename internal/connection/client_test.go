package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newEchoServer echoes every text message back to the sender.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientSendAndReceive(t *testing.T) {
	srv := newEchoServer(t)

	client := NewClient(ClientConfig{URL: wsURL(srv)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected IsConnected after Connect")
	}

	if err := client.Send([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case f := <-client.Frames():
		if string(f.Data) != `{"hello":"world"}` {
			t.Errorf("got frame %q", f.Data)
		}
		if f.ReceivedAt.IsZero() {
			t.Error("frame missing receive timestamp")
		}
	case err := <-client.Errors():
		t.Fatalf("transport error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestClientSendBeforeConnect(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://localhost:1"}, nil)
	if err := client.Send([]byte("x")); err != ErrNotConnected {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectRefused(t *testing.T) {
	client := NewClient(ClientConfig{
		URL:         "ws://127.0.0.1:1",
		DialTimeout: 500 * time.Millisecond,
	}, nil)

	if err := client.Connect(context.Background()); err == nil {
		client.Close()
		t.Fatal("expected dial error for closed port")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	srv := newEchoServer(t)

	client := NewClient(ClientConfig{URL: wsURL(srv)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected after Close")
	}

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClientCloseDuringDial(t *testing.T) {
	// The server delays the upgrade so Close lands while the dial is still
	// in flight.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{URL: wsURL(srv)}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrAlreadyClosed {
			t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	if client.IsConnected() {
		t.Error("socket is alive after Close returned")
	}
}

func TestClientNoErrorAfterClose(t *testing.T) {
	srv := newEchoServer(t)

	client := NewClient(ClientConfig{URL: wsURL(srv)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client.Close()

	// Teardown noise from the read loop must not surface as an error.
	select {
	case err := <-client.Errors():
		t.Errorf("unexpected error after Close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClientPeerClosure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{URL: wsURL(srv)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	select {
	case <-client.Errors():
	case <-time.After(2 * time.Second):
		t.Fatal("expected transport error after peer closed")
	}
}
