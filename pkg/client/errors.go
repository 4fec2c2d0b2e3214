package client

import "errors"

var (
	// ErrClientClosed is returned for operations on a client after Close().
	ErrClientClosed = errors.New("wsmux: client is closed")

	// ErrRetriesExhausted is returned when a call consumed its whole retry
	// budget without receiving a reply.
	ErrRetriesExhausted = errors.New("wsmux: ran out of retries")

	// ErrSocketClosed fails every in-flight call when the connection is torn
	// down explicitly while the call is outstanding.
	ErrSocketClosed = errors.New("wsmux: socket closed")

	// ErrConnectionFailed marks the connection permanently failed after the
	// maximum number of reconnect attempts.
	ErrConnectionFailed = errors.New("wsmux: connection failed, reconnect attempts exhausted")

	// ErrNotConnected is the synchronous send failure when no transport is
	// open. Calls do not surface it directly; they back off and retry.
	ErrNotConnected = errors.New("wsmux: not connected")
)
