package client

import (
	"log/slog"
	"sync"

	"github.com/cskr/pubsub"
)

// ConnState labels the connection lifecycle.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
	StateErroring   ConnState = "erroring"
	// StateFailed means the reconnect budget is exhausted; no further
	// automatic attempts occur.
	StateFailed ConnState = "failed"
)

// Status is a read-only snapshot of the connection, recomputed on every
// connection-affecting event and pushed to all subscribers.
type Status struct {
	State            ConnState
	HasCredential    bool
	ReconnectAttempt int
	MaxAttempts      int
	LastError        string
}

const (
	statusTopic      = "status"
	statusBufferSize = 16
)

// statusNotifier fans status snapshots out to subscribers. One listener's
// failure must not prevent others from being notified, so each listener runs
// on its own drain goroutine and panics are recovered and logged.
type statusNotifier struct {
	bus    *pubsub.PubSub
	logger *slog.Logger

	mu      sync.Mutex
	current Status
	closed  bool
}

func newStatusNotifier(logger *slog.Logger, initial Status) *statusNotifier {
	return &statusNotifier{
		bus:     pubsub.New(statusBufferSize),
		logger:  logger,
		current: initial,
	}
}

// publish records the snapshot and notifies subscribers. TryPub never blocks
// the connection state machine on a slow subscriber.
func (n *statusNotifier) publish(s Status) {
	n.mu.Lock()
	n.current = s
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}
	n.bus.TryPub(s, statusTopic)
}

func (n *statusNotifier) snapshot() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// subscribe registers a listener, delivers the current snapshot synchronously,
// and returns an unsubscribe function.
func (n *statusNotifier) subscribe(listener func(Status)) func() {
	n.mu.Lock()
	if n.closed {
		cur := n.current
		n.mu.Unlock()
		n.invoke(listener, cur)
		return func() {}
	}
	n.mu.Unlock()

	ch := n.bus.Sub(statusTopic)
	n.invoke(listener, n.snapshot())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return
				}
				n.invoke(listener, v.(Status))
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if !closed {
				n.bus.Unsub(ch, statusTopic)
			}
		})
	}
}

func (n *statusNotifier) invoke(listener func(Status), s Status) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("wsmux: status listener panicked", "panic", r)
		}
	}()
	listener(s)
}

// shutdown closes all subscriber channels and stops their drain goroutines.
func (n *statusNotifier) shutdown() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.bus.Shutdown()
}
