package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/relayforge/go-wsmux/pkg/wire"
)

// callState is the explicit per-call state machine. Terminal state is
// callDone; once reached, no further attempts, timers, or callback
// invocations occur for that identifier.
type callState int

const (
	callIdle callState = iota
	callSending
	callAwaiting
	callRetrying
	callDone
)

// transportSender abstracts the live transport for calls: a synchronous send
// that fails when no connection is open or the write itself errors.
type transportSender interface {
	sendEnvelope(env *wire.Envelope) error
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// callCore is the retry/timeout machinery shared by both call variants.
// Retry budget is measured in attempts, not wall-clock time: callers get a
// bounded number of resend cycles regardless of how often the transport
// drops. Timeout is per attempt, re-armed on every send, not a hard deadline
// for the whole call's lifetime.
type callCore struct {
	callID  string
	env     *wire.Envelope
	timeout time.Duration

	sender     transportSender
	deregister func(id string)
	logger     *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration

	mu       sync.Mutex
	state    callState
	retries  int // remaining budget, decremented per attempt
	attempts int
	timer    *time.Timer // pending attempt-timeout or backoff timer

	done chan struct{}
	res  callResult
}

func newCallCore(id string, env *wire.Envelope, timeout time.Duration, retries int,
	sender transportSender, deregister func(string), logger *slog.Logger,
	retryBase, retryMax time.Duration) callCore {
	return callCore{
		callID:     id,
		env:        env,
		timeout:    timeout,
		retries:    retries,
		sender:     sender,
		deregister: deregister,
		logger:     logger,
		retryBase:  retryBase,
		retryMax:   retryMax,
		done:       make(chan struct{}),
	}
}

func (c *callCore) id() string { return c.callID }

// attempt performs one send cycle, consuming one unit of retry budget. A
// budget of n yields the initial attempt plus n retries; the invocation after
// the budget is spent fails with ErrRetriesExhausted. A synchronous send
// failure does not fail the call: the connection manager's reconnection is
// expected to restore the transport, so the call backs off and tries again.
func (c *callCore) attempt() {
	c.mu.Lock()
	if c.state == callDone {
		c.mu.Unlock()
		c.logger.Debug("wsmux: attempt on completed call ignored", "id", c.callID)
		return
	}
	c.stopTimerLocked()
	if c.retries < 0 {
		c.finishLocked(callResult{err: ErrRetriesExhausted})
		return
	}
	c.retries--
	c.state = callSending
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	err := c.sender.sendEnvelope(c.env)

	c.mu.Lock()
	if c.state == callDone {
		// Reply raced the send bookkeeping; nothing left to arm.
		c.mu.Unlock()
		return
	}
	if err != nil {
		delay := backoffDelay(c.retryBase, c.retryMax, attempt)
		c.state = callRetrying
		c.timer = time.AfterFunc(delay, c.attempt)
		c.mu.Unlock()
		c.logger.Debug("wsmux: send failed, retrying after backoff",
			"id", c.callID, "service", c.env.Service, "delay", delay, "error", err)
		return
	}
	c.state = callAwaiting
	c.timer = time.AfterFunc(c.timeout, c.onTimeout)
	c.mu.Unlock()
}

// onTimeout re-invokes attempt; a timed-out attempt is indistinguishable from
// a resend and consumes one unit of retry budget.
func (c *callCore) onTimeout() {
	c.mu.Lock()
	if c.state != callAwaiting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.logger.Debug("wsmux: attempt timed out, resending", "id", c.callID, "service", c.env.Service)
	c.attempt()
}

// retryNow is invoked by the connection manager right after a successful
// reconnect. It cancels any pending backoff timer, restores one unit of retry
// budget (the prior failure was transport-related, not a true attempt), and
// attempts immediately, so connection churn does not silently consume a
// caller's budget.
func (c *callCore) retryNow() {
	c.mu.Lock()
	if c.state != callRetrying && c.state != callAwaiting {
		// Completed, or an attempt is being sent right now.
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.retries++
	c.mu.Unlock()
	c.attempt()
}

// fail forces the call into its terminal state with err. Used by the
// connection manager on explicit close and on reconnect exhaustion.
func (c *callCore) fail(err error) {
	c.mu.Lock()
	if c.state == callDone {
		c.mu.Unlock()
		return
	}
	c.finishLocked(callResult{err: err})
}

// finishLocked records the at-most-one terminal resolution. It must be called
// with c.mu held and releases it before deregistering.
func (c *callCore) finishLocked(res callResult) {
	c.state = callDone
	c.stopTimerLocked()
	c.res = res
	close(c.done)
	c.mu.Unlock()
	c.deregister(c.callID)
}

func (c *callCore) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// wait blocks until the call reaches its terminal state or ctx is done.
// There is no explicit cancel: abandoning via ctx leaves the call running to
// its own terminal state.
func (c *callCore) wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.res.payload, c.res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// singleCall expects exactly one reply: terminal on the first matching frame,
// on an error found in that frame, or on retry exhaustion.
type singleCall struct {
	callCore
}

func (c *singleCall) start() {
	c.attempt()
}

func (c *singleCall) handleFrame(f *wire.Frame) {
	c.mu.Lock()
	if c.state == callDone {
		c.mu.Unlock()
		c.logger.Debug("wsmux: frame for completed call dropped", "id", c.callID)
		return
	}
	if rerr := wire.ExtractError(f); rerr != nil {
		c.finishLocked(callResult{err: rerr})
		return
	}
	c.finishLocked(callResult{payload: f.Response})
}
