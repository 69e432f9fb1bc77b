// Package protocol implements the OBS WebSocket wire codec.
//
// Two generations are supported:
//   - v5: opcode-tagged JSON envelopes {op, d} (Hello 0, Identify 1,
//     Identified 2, Request 6, RequestResponse 7)
//   - v4: flat JSON objects keyed by "request-type"/"message-id", with
//     "error"/"error-id" fields signalling failure
//
// The codec is stateless: it only encodes and decodes messages. Unparsable
// input is reported as ErrMalformedMessage.
package protocol
