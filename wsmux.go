// Package wsmux multiplexes many concurrent logical requests over a single
// persistent WebSocket connection: it matches asynchronous responses back to
// their originating request by message ID, retries and reconnects
// transparently on transport failure, and supports both single-shot and
// incrementally-streamed responses.
package wsmux

import (
	"github.com/relayforge/go-wsmux/pkg/client"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

// Re-export core types
type (
	Client       = client.Client
	Option       = client.Option
	CallOption   = client.CallOption
	Options      = client.Options
	Status       = client.Status
	ConnState    = client.ConnState
	Stream       = client.Stream
	ReceiverFunc = client.ReceiverFunc
	Envelope     = wire.Envelope
	Frame        = wire.Frame
	RemoteError  = wire.RemoteError
)

// Re-export error values
var (
	ErrClientClosed     = client.ErrClientClosed
	ErrRetriesExhausted = client.ErrRetriesExhausted
	ErrSocketClosed     = client.ErrSocketClosed
	ErrConnectionFailed = client.ErrConnectionFailed
)

// Re-export connection states
const (
	StateConnecting = client.StateConnecting
	StateOpen       = client.StateOpen
	StateClosed     = client.StateClosed
	StateErroring   = client.StateErroring
	StateFailed     = client.StateFailed
)

// Connect establishes a client for the given WebSocket endpoint.
var Connect = client.Connect

// ConnectWithOptions establishes a client using an Options struct.
var ConnectWithOptions = client.ConnectWithOptions
