// Package protocol defines the frames exchanged on the session event stream.
// The server gateway and the console client both speak it.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "gatekeeper.session.v1"

// CloseSessionEnded is the websocket close code sent after a terminated frame.
const CloseSessionEnded = 4001

const (
	Version = 1

	TypeReady      = "session.ready"
	TypeTerminated = "session.terminated"
	TypeHeartbeat  = "heartbeat"
	TypeAck        = "heartbeat.ack"
	TypeError      = "error"
)

var allowedTypes = map[string]struct{}{
	TypeReady:      {},
	TypeTerminated: {},
	TypeHeartbeat:  {},
	TypeAck:        {},
	TypeError:      {},
}

// Envelope wraps every frame.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the envelope header. Payloads are checked by their handlers.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := allowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}

// New builds an envelope around payload. A nil payload is omitted.
func New(typ string, payload any, ts time.Time) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, TS: ts.UTC()}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = b
	return env, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(e.Payload, dst)
}

// ReadyPayload greets a subscriber once the stream is live.
type ReadyPayload struct {
	Session           string `json:"session"`
	HeartbeatInterval int64  `json:"heartbeatIntervalMs"`
}

// TerminatedPayload is pushed when the session leaves the Active state.
type TerminatedPayload struct {
	Reason string `json:"reason"`
}

// AckPayload confirms a heartbeat frame.
type AckPayload struct {
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// ErrorPayload reports a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
