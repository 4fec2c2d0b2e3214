// pkg/wire/envelope.go
package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outbound message structure, one per request attempt.
// A retry re-sends the same envelope with the same ID.
type Envelope struct {
	ID         string          `json:"id"`
	Service    string          `json:"service"`
	Request    json.RawMessage `json:"request"`
	RoutingTag string          `json:"routingTag,omitempty"` // optional named pipeline on the remote side
}

// NewEnvelope marshals payloadData and wraps it in an Envelope.
// A nil payloadData produces a JSON `null` request body.
func NewEnvelope(id, service string, payloadData interface{}, routingTag string) (*Envelope, error) {
	var payloadBytes json.RawMessage
	var err error
	if payloadData != nil {
		payloadBytes, err = json.Marshal(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload for service '%s': %w", service, err)
		}
	}
	return &Envelope{
		ID:         id,
		Service:    service,
		Request:    payloadBytes,
		RoutingTag: routingTag,
	}, nil
}

// Frame is one complete inbound message, already parsed from its wire encoding.
// Response may itself carry an error field or a completion marker, depending
// on service semantics.
type Frame struct {
	ID       string          `json:"id,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// DecodeResponse unmarshals the Frame's Response into the provided value
// (must be a pointer). A null or absent response leaves v zeroed.
func (f *Frame) DecodeResponse(v interface{}) error {
	if f.Response == nil || string(f.Response) == "null" {
		return nil
	}
	return json.Unmarshal(f.Response, v)
}
