package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage indicates input that could not be decoded as a
// protocol message.
var ErrMalformedMessage = errors.New("malformed protocol message")

// Encode wraps a payload in a v5 envelope and marshals it.
func Encode(op int, d any) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal op %d payload: %w", op, err)
	}
	return json.Marshal(Envelope{Op: op, D: payload})
}

// DecodeEnvelope parses a v5 envelope. Messages without an op field are
// malformed; op 0 (Hello) is valid, so presence is checked explicitly.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var probe struct {
		Op *int            `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if probe.Op == nil {
		return Envelope{}, fmt.Errorf("%w: missing op", ErrMalformedMessage)
	}
	return Envelope{Op: *probe.Op, D: probe.D}, nil
}

// DecodeHello parses the payload of a Hello envelope.
func DecodeHello(d json.RawMessage) (Hello, error) {
	var h Hello
	if err := json.Unmarshal(d, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: hello: %v", ErrMalformedMessage, err)
	}
	return h, nil
}

// DecodeIdentified parses the payload of an Identified envelope.
func DecodeIdentified(d json.RawMessage) (Identified, error) {
	var id Identified
	if err := json.Unmarshal(d, &id); err != nil {
		return Identified{}, fmt.Errorf("%w: identified: %v", ErrMalformedMessage, err)
	}
	return id, nil
}

// DecodeRequestResponse parses the payload of a RequestResponse envelope.
func DecodeRequestResponse(d json.RawMessage) (RequestResponse, error) {
	var rr RequestResponse
	if err := json.Unmarshal(d, &rr); err != nil {
		return RequestResponse{}, fmt.Errorf("%w: request response: %v", ErrMalformedMessage, err)
	}
	return rr, nil
}

// EncodeV4Request builds a flat v4 request. Extra fields are merged alongside
// the mandatory "request-type" and "message-id" keys.
func EncodeV4Request(requestType, messageID string, fields map[string]any) ([]byte, error) {
	req := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		req[k] = v
	}
	req["request-type"] = requestType
	req["message-id"] = messageID
	return json.Marshal(req)
}

// DecodeV4Response parses a flat v4 reply, keeping the raw message for
// response-specific fields.
func DecodeV4Response(data []byte) (V4Response, error) {
	var resp V4Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return V4Response{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	resp.Raw = append([]byte(nil), data...)
	return resp, nil
}
