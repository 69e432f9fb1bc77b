package protocol

import "encoding/json"

// v5 opcodes.
const (
	OpHello           = 0
	OpIdentify        = 1
	OpIdentified      = 2
	OpRequest         = 6
	OpRequestResponse = 7
)

// Envelope is a v5 message: an opcode plus an opcode-specific payload.
type Envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// AuthChallenge is the authentication block of a Hello message. Its presence
// means the peer requires challenge-response authentication.
type AuthChallenge struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Hello is the peer greeting (op 0).
type Hello struct {
	ObsWebSocketVersion string         `json:"obsWebSocketVersion,omitempty"`
	RPCVersion          int            `json:"rpcVersion"`
	Authentication      *AuthChallenge `json:"authentication,omitempty"`
}

// Identify is the client identification response (op 1). Authentication is a
// pointer without omitempty: when the peer requires no auth the field is sent
// as an explicit null.
type Identify struct {
	RPCVersion         int     `json:"rpcVersion"`
	Authentication     *string `json:"authentication"`
	EventSubscriptions int     `json:"eventSubscriptions"`
}

// Identified is the peer acknowledgement (op 2).
type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// Request is a v5 client request (op 6), matched to its response by RequestID.
type Request struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

// RequestStatus is the outcome block of a RequestResponse.
type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// RequestResponse is a v5 request result (op 7).
type RequestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// V4Response is a v4 reply. MessageID correlates it with the request; a
// non-empty Error or ErrorID marks failure. Raw keeps the full message so
// callers can pull response-specific fields.
type V4Response struct {
	MessageID string          `json:"message-id"`
	Status    string          `json:"status"`
	Error     string          `json:"error"`
	ErrorID   string          `json:"error-id"`
	Raw       json.RawMessage `json:"-"`
}

// Failed reports whether the response carries a v4 failure signal.
func (r V4Response) Failed() bool {
	return r.Error != "" || r.ErrorID != ""
}

// Detail returns the failure detail, preferring the error message over the id.
func (r V4Response) Detail() string {
	if r.Error != "" {
		return r.Error
	}
	return r.ErrorID
}
