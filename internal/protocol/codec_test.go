package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncode_Identify(t *testing.T) {
	token := "dG9rZW4="
	data, err := Encode(OpIdentify, Identify{
		RPCVersion:     1,
		Authentication: &token,
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if string(raw["op"]) != "1" {
		t.Errorf("op = %s, want 1", raw["op"])
	}

	var d map[string]json.RawMessage
	if err := json.Unmarshal(raw["d"], &d); err != nil {
		t.Fatalf("d not valid JSON: %v", err)
	}
	if string(d["authentication"]) != `"dG9rZW4="` {
		t.Errorf("authentication = %s, want %q", d["authentication"], token)
	}
}

func TestEncode_IdentifyNullAuthentication(t *testing.T) {
	// No-auth Identify must carry an explicit authentication: null, not omit
	// the field.
	data, err := Encode(OpIdentify, Identify{RPCVersion: 1, EventSubscriptions: 0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var env struct {
		D map[string]json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	auth, present := env.D["authentication"]
	if !present {
		t.Fatal("authentication field omitted, want explicit null")
	}
	if string(auth) != "null" {
		t.Errorf("authentication = %s, want null", auth)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantOp  int
		wantErr bool
	}{
		{"hello", `{"op":0,"d":{"rpcVersion":1}}`, OpHello, false},
		{"identified", `{"op":2,"d":{"negotiatedRpcVersion":1}}`, OpIdentified, false},
		{"request response", `{"op":7,"d":{"requestId":"r1"}}`, OpRequestResponse, false},
		{"missing op", `{"d":{}}`, 0, true},
		{"not json", `not json at all`, 0, true},
		{"empty", ``, 0, true},
		{"array", `[1,2,3]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("err = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}
			if env.Op != tt.wantOp {
				t.Errorf("op = %d, want %d", env.Op, tt.wantOp)
			}
		})
	}
}

func TestDecodeHello_WithChallenge(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"op":0,"d":{"rpcVersion":1,"authentication":{"challenge":"c1","salt":"s1"}}}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	hello, err := DecodeHello(env.D)
	if err != nil {
		t.Fatalf("DecodeHello failed: %v", err)
	}
	if hello.Authentication == nil {
		t.Fatal("Authentication is nil, want challenge block")
	}
	if hello.Authentication.Challenge != "c1" || hello.Authentication.Salt != "s1" {
		t.Errorf("challenge/salt = %q/%q, want c1/s1",
			hello.Authentication.Challenge, hello.Authentication.Salt)
	}
}

func TestDecodeHello_NoChallenge(t *testing.T) {
	hello, err := DecodeHello([]byte(`{"rpcVersion":1}`))
	if err != nil {
		t.Fatalf("DecodeHello failed: %v", err)
	}
	if hello.Authentication != nil {
		t.Errorf("Authentication = %+v, want nil", hello.Authentication)
	}
}

func TestDecodeRequestResponse(t *testing.T) {
	d := []byte(`{"requestType":"GetRecordStatus","requestId":"abc","requestStatus":{"result":true,"code":100},"responseData":{"outputActive":true}}`)

	rr, err := DecodeRequestResponse(d)
	if err != nil {
		t.Fatalf("DecodeRequestResponse failed: %v", err)
	}
	if rr.RequestID != "abc" {
		t.Errorf("RequestID = %q, want %q", rr.RequestID, "abc")
	}
	if !rr.RequestStatus.Result {
		t.Error("RequestStatus.Result = false, want true")
	}

	var data struct {
		OutputActive bool `json:"outputActive"`
	}
	if err := json.Unmarshal(rr.ResponseData, &data); err != nil {
		t.Fatalf("unmarshal response data: %v", err)
	}
	if !data.OutputActive {
		t.Error("outputActive = false, want true")
	}
}

func TestEncodeV4Request(t *testing.T) {
	data, err := EncodeV4Request("GetVersion", "msg-1", nil)
	if err != nil {
		t.Fatalf("EncodeV4Request failed: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req["request-type"] != "GetVersion" {
		t.Errorf("request-type = %v, want GetVersion", req["request-type"])
	}
	if req["message-id"] != "msg-1" {
		t.Errorf("message-id = %v, want msg-1", req["message-id"])
	}
}

func TestEncodeV4Request_ExtraFields(t *testing.T) {
	data, err := EncodeV4Request("SetCurrentScene", "msg-2", map[string]any{
		"scene-name": "Main",
		// Mandatory keys win over colliding extras.
		"request-type": "bogus",
	})
	if err != nil {
		t.Fatalf("EncodeV4Request failed: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req["scene-name"] != "Main" {
		t.Errorf("scene-name = %v, want Main", req["scene-name"])
	}
	if req["request-type"] != "SetCurrentScene" {
		t.Errorf("request-type = %v, want SetCurrentScene", req["request-type"])
	}
}

func TestDecodeV4Response(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantFailed bool
		wantDetail string
	}{
		{"ok", `{"message-id":"1","status":"ok"}`, false, ""},
		{"error field", `{"message-id":"1","status":"error","error":"Not Authenticated"}`, true, "Not Authenticated"},
		{"error-id field", `{"message-id":"1","error-id":"AUTH_REQUIRED"}`, true, "AUTH_REQUIRED"},
		{"error preferred over id", `{"message-id":"1","error":"bad","error-id":"CODE"}`, true, "bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeV4Response([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeV4Response failed: %v", err)
			}
			if resp.Failed() != tt.wantFailed {
				t.Errorf("Failed() = %v, want %v", resp.Failed(), tt.wantFailed)
			}
			if resp.Detail() != tt.wantDetail {
				t.Errorf("Detail() = %q, want %q", resp.Detail(), tt.wantDetail)
			}
			if len(resp.Raw) == 0 {
				t.Error("Raw not retained")
			}
		})
	}
}

func TestDecodeV4Response_Malformed(t *testing.T) {
	if _, err := DecodeV4Response([]byte(`{{`)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("err = %v, want ErrMalformedMessage", err)
	}
}
