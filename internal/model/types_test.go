package model

import "testing"

func TestProtocolDefaults(t *testing.T) {
	if !ProtocolV4.Valid() || !ProtocolV5.Valid() {
		t.Error("known protocols must be valid")
	}
	if Protocol("v6").Valid() {
		t.Error("v6 must not be valid")
	}
	if got := ProtocolV4.DefaultPort(); got != 4444 {
		t.Errorf("v4 default port = %d", got)
	}
	if got := ProtocolV5.DefaultPort(); got != 4455 {
		t.Errorf("v5 default port = %d", got)
	}
}

func TestConnectionStateReady(t *testing.T) {
	ready := map[ConnectionState]bool{
		StateDisconnected:   false,
		StateConnecting:     false,
		StateAuthenticating: false,
		StateConnected:      true,
		StateAuthenticated:  true,
		StateError:          false,
	}
	for state, want := range ready {
		if got := state.Ready(); got != want {
			t.Errorf("%s.Ready() = %v, want %v", state, got, want)
		}
	}
}

func TestSnapshotMerge(t *testing.T) {
	var snap StatusSnapshot

	snap.Merge(ConnectionStatus{Name: "idle", CPUUsage: 2.0})
	snap.Merge(ConnectionStatus{Name: "first-rec", Recording: true, CPUUsage: 9.0})
	snap.Merge(ConnectionStatus{Name: "second-rec", Recording: true, Streaming: true, CPUUsage: 4.0})

	if !snap.IsRecording || !snap.IsStreaming {
		t.Errorf("flags = recording %v, streaming %v", snap.IsRecording, snap.IsStreaming)
	}
	if snap.ActiveRecorder != "first-rec" {
		t.Errorf("ActiveRecorder = %q, the first recording connection wins", snap.ActiveRecorder)
	}
	if snap.CPUUsage != 9.0 {
		t.Errorf("CPUUsage = %v, want the per-connection maximum", snap.CPUUsage)
	}
	if len(snap.Connections) != 3 {
		t.Errorf("got %d connections, want 3", len(snap.Connections))
	}
}
