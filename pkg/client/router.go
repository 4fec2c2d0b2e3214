package client

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

// inflight is one outstanding call registered in the router's table.
type inflight interface {
	id() string
	handleFrame(f *wire.Frame)
	fail(err error)
	retryNow()
}

// router assigns unique message identifiers, keeps the table of in-flight
// calls keyed by identifier, and dispatches inbound frames to the matching
// call. The table is owned here exclusively; the connection manager reaches
// it only through failAll/retryAll.
type router struct {
	// tag disambiguates identifiers across client instances sharing a
	// backend (e.g. several processes on one account).
	tag     string
	counter atomic.Uint64
	logger  *slog.Logger

	mu    sync.Mutex
	table map[string]inflight
}

func newRouter(logger *slog.Logger) *router {
	return &router{
		tag:    uuid.NewString()[:8],
		logger: logger,
		table:  make(map[string]inflight),
	}
}

// nextID returns tag + "-" + counter. Never repeats within a client
// instance's lifetime.
func (r *router) nextID() string {
	return fmt.Sprintf("%s-%d", r.tag, r.counter.Add(1))
}

func (r *router) register(c inflight) {
	r.mu.Lock()
	r.table[c.id()] = c
	r.mu.Unlock()
}

func (r *router) remove(id string) {
	r.mu.Lock()
	delete(r.table, id)
	r.mu.Unlock()
}

func (r *router) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.table)
}

// dispatch forwards an inbound frame to its call. Frames without an
// identifier, and frames whose identifier has no table entry (late arrivals
// after a local timeout, or frames for a call from a previous connection
// generation), are expected under retries and silently dropped.
func (r *router) dispatch(f *wire.Frame) {
	if f.ID == "" {
		r.logger.Debug("wsmux: dropping unroutable frame without id")
		return
	}
	r.mu.Lock()
	c, ok := r.table[f.ID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("wsmux: dropping frame for unknown call", "id", f.ID)
		return
	}
	c.handleFrame(f)
}

// snapshot returns the current calls without holding the lock across their
// callbacks; calls deregister themselves through remove().
func (r *router) snapshot() []inflight {
	r.mu.Lock()
	calls := make([]inflight, 0, len(r.table))
	for _, c := range r.table {
		calls = append(calls, c)
	}
	r.mu.Unlock()
	return calls
}

// failAll force-fails every in-flight call, emptying the table.
func (r *router) failAll(err error) {
	for _, c := range r.snapshot() {
		c.fail(err)
	}
}

// retryAll tells every in-flight call that an immediate retry attempt is
// worth making now (the transport just came back).
func (r *router) retryAll() {
	for _, c := range r.snapshot() {
		c.retryNow()
	}
}
