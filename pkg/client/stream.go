package client

import (
	"context"
	"encoding/json"

	"github.com/relayforge/go-wsmux/pkg/wire"
)

// ReceiverFunc interprets one streamed response chunk (e.g. checking a
// stream-end marker) and reports whether it was the terminal chunk.
type ReceiverFunc func(response json.RawMessage) bool

// streamCall expects an unbounded sequence of replies, terminated by the
// receiver predicate. Registration, backoff, and timeout work exactly as for
// singleCall; a retry re-sends the original request, which only helps if the
// remote service restarts the stream on redelivery. There is no mid-stream
// resumption across reconnects.
type streamCall struct {
	callCore
	receiver ReceiverFunc
}

func (s *streamCall) start() {
	s.attempt()
}

func (s *streamCall) handleFrame(f *wire.Frame) {
	s.mu.Lock()
	if s.state == callDone {
		s.mu.Unlock()
		s.logger.Debug("wsmux: frame for terminated stream dropped", "id", s.callID)
		return
	}
	if rerr := wire.ExtractError(f); rerr != nil {
		s.finishLocked(callResult{err: rerr})
		return
	}
	// The attempt timer is deliberately not reset per chunk: the timeout is
	// a ceiling from attempt to attempt, not a per-chunk budget.
	s.mu.Unlock()

	if !s.receiver(f.Response) {
		return
	}

	s.mu.Lock()
	if s.state == callDone {
		s.mu.Unlock()
		return
	}
	s.finishLocked(callResult{payload: f.Response})
}

// Stream is the caller-facing handle for a multi-response call.
type Stream struct {
	call *streamCall
}

// Done is closed when the stream reaches its terminal state.
func (s *Stream) Done() <-chan struct{} {
	return s.call.done
}

// Err returns the terminal error, if any. Only valid after Done is closed.
func (s *Stream) Err() error {
	select {
	case <-s.call.done:
		return s.call.res.err
	default:
		return nil
	}
}

// Final returns the chunk the receiver judged terminal. Only valid after Done
// is closed.
func (s *Stream) Final() json.RawMessage {
	select {
	case <-s.call.done:
		return s.call.res.payload
	default:
		return nil
	}
}

// Wait blocks until the stream terminates or ctx is done, returning the final
// chunk. Abandoning via ctx leaves the call running to its own terminal state.
func (s *Stream) Wait(ctx context.Context) (json.RawMessage, error) {
	return s.call.wait(ctx)
}
