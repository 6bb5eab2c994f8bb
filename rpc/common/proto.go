package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// Control message types. Messages carrying one of these types (and no action)
// are not requests and are never correlated.
const (
	MsgTypeReady = "ready" // bridge -> caller, sent once per connection
	MsgTypeEvent = "event" // bridge -> caller, unsolicited downstream message
	MsgTypeHello = "hello" // agent -> bridge, sent on every (re)connection
)

// Hop names used as keys in the Timing record
const (
	HopClient   = "clientMs"
	HopHost     = "hostMs"
	HopAgent    = "agentMs"
	HopExecutor = "executorMs"
)

// Error strings that cross hop boundaries
const (
	ErrMsgInvalidJSON     = "Invalid JSON"
	ErrMsgMissingAction   = "Missing action"
	ErrMsgRequestTimedOut = "Request timed out"
)

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request is a single action invocation travelling from a caller to the agent.
// The id is opaque and unique among the requests pending on one router.
type Request struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"` // only set on control messages
	Action  string         `json:"action,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Profile bool           `json:"profile,omitempty"`
}

// WantsProfile reports whether timing should be collected for this request.
// Both the top level flag and params.profile are honored.
func (r *Request) WantsProfile() bool {
	if r.Profile {
		return true
	}
	p, _ := r.Params["profile"].(bool)
	return p
}

// IsControl reports whether the message is a control message rather than a request
func (r *Request) IsControl() bool {
	return r.Type != "" && r.Action == ""
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Timing maps a hop name to the elapsed milliseconds measured by that hop
type Timing map[string]float64

// Response is the outcome of one Request. Exactly one of Result / Error is set.
type Response struct {
	ID     string          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Timing Timing          `json:"timing,omitempty"`
}

// AddTiming records the elapsed time of one hop without touching other hops
func (r *Response) AddTiming(hop string, ms float64) {
	if r.Timing == nil {
		r.Timing = make(Timing, 1)
	}
	r.Timing[hop] = ms
}

// Err returns the response error as a Go error, nil for successful responses
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%s", r.Error)
}

// --------------------------------------------------------------------------
// Control Messages
// --------------------------------------------------------------------------

// ReadyMessage greets a caller right after its connection was accepted
type ReadyMessage struct {
	Type string `json:"type"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// EventMessage wraps a downstream message that no caller is waiting for
type EventMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HelloMessage is the handshake the agent sends on every new link
type HelloMessage struct {
	Type     string `json:"type"`
	Version  string `json:"version"`
	Instance string `json:"instance,omitempty"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewReadyMessage creates the greeting for a new caller connection
func NewReadyMessage(host string, port int) *ReadyMessage {
	return &ReadyMessage{Type: MsgTypeReady, Host: host, Port: port}
}

// NewEventMessage wraps an unsolicited downstream payload
func NewEventMessage(payload json.RawMessage) *EventMessage {
	return &EventMessage{Type: MsgTypeEvent, Payload: payload}
}

// NewHelloMessage creates the agent handshake
func NewHelloMessage(version, instance string) *HelloMessage {
	return &HelloMessage{Type: MsgTypeHello, Version: version, Instance: instance}
}

// NewSuccessResponse creates a successful response. A result that cannot be
// serialized turns into an error response.
func NewSuccessResponse(id string, result any) *Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, fmt.Sprintf("failed to serialize result: %s", err))
	}
	return &Response{ID: id, OK: true, Result: raw}
}

// NewErrorResponse creates a failed response. An empty id is allowed for
// requests that could not be correlated.
func NewErrorResponse(id string, msg string) *Response {
	return &Response{ID: id, OK: false, Error: msg}
}

// NewTimeoutResponse creates the failure synthesized when a deadline elapses
func NewTimeoutResponse(id string) *Response {
	return NewErrorResponse(id, ErrMsgRequestTimedOut)
}
