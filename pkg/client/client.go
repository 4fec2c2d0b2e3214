// pkg/client/client.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

const maxFrameSize = 1024 * 1024 // 1MB

// Client multiplexes many concurrent logical requests over one persistent
// WebSocket connection. It owns the single transport, recovers from drops
// with backoff, and routes inbound frames back to their originating calls.
type Client struct {
	config clientConfig
	urlStr string

	clientCtx    context.Context
	clientCancel context.CancelFunc

	router *router
	status *statusNotifier

	connMu           sync.Mutex
	conn             *websocket.Conn
	pumpCancel       context.CancelFunc
	connecting       bool
	closed           bool
	failed           bool
	reconnectAttempt int
	reconnectTimer   *time.Timer
	lastError        string

	// Serializes envelope writes; wsjson.Write is not safe for concurrent
	// use on one connection.
	writeMu sync.Mutex
}

// Connect creates a client for urlStr and performs the initial connection
// attempt. A failed initial dial does not return an error: the reconnect
// machinery takes over, and issued calls back off until the transport is
// restored or their retry budget runs out.
func Connect(urlStr string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(urlStr); err != nil {
		return nil, fmt.Errorf("wsmux: invalid endpoint URL %q: %w", urlStr, err)
	}

	cli := &Client{
		config: defaultConfig(),
		urlStr: urlStr,
	}
	for _, opt := range opts {
		opt(cli)
	}
	if cli.clientCtx == nil {
		cli.clientCtx, cli.clientCancel = context.WithCancel(context.Background())
	}
	cli.router = newRouter(cli.config.logger)
	cli.status = newStatusNotifier(cli.config.logger, Status{
		State:         StateConnecting,
		HasCredential: cli.config.credential != "",
		MaxAttempts:   cli.config.maxReconnects,
	})

	cli.open()
	return cli, nil
}

// ID returns the per-instance routing tag embedded in every call identifier.
func (c *Client) ID() string {
	return c.router.tag
}

// Status returns the current connection snapshot.
func (c *Client) Status() Status {
	return c.status.snapshot()
}

// Subscribe registers a listener for connection snapshots. The current
// snapshot is delivered synchronously before Subscribe returns. The returned
// function unsubscribes; calling it more than once is harmless.
func (c *Client) Subscribe(listener func(Status)) func() {
	return c.status.subscribe(listener)
}

// open dials the configured endpoint, embedding the credential as a
// connection parameter. It is a no-op while a connection is already being
// established or is open. A synchronous dial failure is treated as a
// connection failure and schedules a reconnect.
func (c *Client) open() {
	c.connMu.Lock()
	if c.closed || c.failed || c.connecting || c.conn != nil {
		c.connMu.Unlock()
		return
	}
	c.connecting = true
	c.connMu.Unlock()
	c.publish(StateConnecting)

	dialCtx, dialCancel := context.WithTimeout(c.clientCtx, c.config.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.dialURL(), c.config.dialOptions)
	dialCancel()

	if err != nil {
		c.connMu.Lock()
		c.connecting = false
		c.lastError = err.Error()
		c.connMu.Unlock()
		c.config.logger.Warn("wsmux: connect failed", "url", c.urlStr, "error", err)
		c.publish(StateErroring)
		c.scheduleReconnect()
		return
	}
	conn.SetReadLimit(maxFrameSize)

	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closed during dial")
		return
	}
	c.conn = conn
	c.connecting = false
	pumpCtx, pumpCancel := context.WithCancel(c.clientCtx)
	c.pumpCancel = pumpCancel
	c.connMu.Unlock()

	go c.readPump(conn, pumpCtx)
	c.onOpen()
}

// dialURL appends the credential as a query parameter. Credentials are a
// connection-establishment concern, never per-request.
func (c *Client) dialURL() string {
	if c.config.credential == "" {
		return c.urlStr
	}
	u, err := url.Parse(c.urlStr)
	if err != nil {
		return c.urlStr
	}
	q := u.Query()
	q.Set("token", c.config.credential)
	u.RawQuery = q.Encode()
	return u.String()
}

// onOpen resets the reconnect state and tells every in-flight call that an
// immediate retry attempt is worth making now.
func (c *Client) onOpen() {
	c.connMu.Lock()
	c.reconnectAttempt = 0
	c.lastError = ""
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.connMu.Unlock()

	c.config.logger.Info("wsmux: connected", "url", c.urlStr)
	c.publish(StateOpen)
	c.router.retryAll()
}

// readPump reads frames until the connection drops, dispatching each to its
// call in transport-delivery order.
func (c *Client) readPump(conn *websocket.Conn, ctx context.Context) {
	for {
		var f wire.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.onClose(conn, err)
			return
		}
		c.router.dispatch(&f)
	}
}

// onClose clears the transport handle, records the close reason, and
// schedules a reconnect unless the client was closed explicitly.
func (c *Client) onClose(conn *websocket.Conn, reason error) {
	c.connMu.Lock()
	if c.conn != conn {
		// A stale pump from a connection that was already replaced.
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	closed := c.closed
	if reason != nil {
		c.lastError = reason.Error()
	}
	c.connMu.Unlock()

	conn.Close(websocket.StatusAbnormalClosure, "read loop terminated")

	if closed {
		return
	}
	c.config.logger.Info("wsmux: connection closed", "error", reason)
	c.publish(StateClosed)
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect backoff timer. It is a no-op when a
// reconnect is already pending or in progress. When the attempt counter
// exceeds the configured maximum, the connection is marked permanently failed
// and every in-flight call is force-failed.
func (c *Client) scheduleReconnect() {
	c.connMu.Lock()
	if c.closed || c.failed || c.reconnectTimer != nil || c.connecting || c.conn != nil {
		c.connMu.Unlock()
		return
	}
	c.reconnectAttempt++
	if c.reconnectAttempt > c.config.maxReconnects {
		c.failed = true
		c.connMu.Unlock()
		c.config.logger.Error("wsmux: reconnect attempts exhausted", "attempts", c.config.maxReconnects)
		c.publish(StateFailed)
		c.router.failAll(ErrConnectionFailed)
		return
	}
	attempt := c.reconnectAttempt
	delay := backoffDelay(c.config.reconnectBase, c.config.reconnectMax, attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.connMu.Lock()
		c.reconnectTimer = nil
		c.connMu.Unlock()
		c.open()
	})
	c.connMu.Unlock()

	c.config.logger.Info("wsmux: reconnect scheduled", "attempt", attempt, "delay", delay)
	c.publish(StateConnecting)
}

// publish recomputes the connection snapshot and pushes it to subscribers.
func (c *Client) publish(state ConnState) {
	c.connMu.Lock()
	s := Status{
		State:            state,
		HasCredential:    c.config.credential != "",
		ReconnectAttempt: c.reconnectAttempt,
		MaxAttempts:      c.config.maxReconnects,
		LastError:        c.lastError,
	}
	c.connMu.Unlock()
	c.status.publish(s)
}

// sendEnvelope writes one envelope to the live transport. It fails
// synchronously when no transport is open; calls treat that as a signal to
// back off and wait for reconnection, not as a terminal failure.
func (c *Client) sendEnvelope(env *wire.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(c.clientCtx, c.config.writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, env)
}

// Call issues a single-response request and blocks until it resolves, fails,
// or ctx is done. Abandoning via ctx leaves the call running to its own
// terminal state; there is no explicit cancel.
func (c *Client) Call(ctx context.Context, service string, payload interface{}, opts ...CallOption) (json.RawMessage, error) {
	call, err := c.issueSingle(service, payload, opts...)
	if err != nil {
		return nil, err
	}
	return call.wait(ctx)
}

// Stream issues a multi-response request. Every matching inbound chunk is
// passed to receiver in arrival order; the stream terminates on the first
// chunk for which receiver returns true, on a remote-signalled error, or on
// retry exhaustion. A retry after a timeout or drop re-sends the original
// request; the client makes no guarantee of mid-stream resumption.
func (c *Client) Stream(service string, payload interface{}, receiver ReceiverFunc, opts ...CallOption) (*Stream, error) {
	if receiver == nil {
		return nil, errors.New("wsmux: receiver must not be nil")
	}
	o, err := c.prepare(opts)
	if err != nil {
		return nil, err
	}
	env, err := wire.NewEnvelope(c.router.nextID(), service, payload, o.routingTag)
	if err != nil {
		return nil, err
	}
	call := &streamCall{
		callCore: newCallCore(env.ID, env, o.timeout, o.retries, c, c.router.remove,
			c.config.logger, c.config.retryBase, c.config.retryMax),
		receiver: receiver,
	}
	c.router.register(call)
	call.start()
	return &Stream{call: call}, nil
}

func (c *Client) issueSingle(service string, payload interface{}, opts ...CallOption) (*singleCall, error) {
	o, err := c.prepare(opts)
	if err != nil {
		return nil, err
	}
	env, err := wire.NewEnvelope(c.router.nextID(), service, payload, o.routingTag)
	if err != nil {
		return nil, err
	}
	call := &singleCall{
		callCore: newCallCore(env.ID, env, o.timeout, o.retries, c, c.router.remove,
			c.config.logger, c.config.retryBase, c.config.retryMax),
	}
	c.router.register(call)
	call.start()
	return call, nil
}

func (c *Client) prepare(opts []CallOption) (callOptions, error) {
	c.connMu.Lock()
	closed, failed := c.closed, c.failed
	c.connMu.Unlock()
	if closed {
		return callOptions{}, ErrClientClosed
	}
	if failed {
		return callOptions{}, ErrConnectionFailed
	}
	o := callOptions{
		timeout: c.config.defaultTimeout,
		retries: c.config.defaultRetries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o, nil
}

// InFlight reports the number of calls currently registered. Primarily for
// tests and diagnostics.
func (c *Client) InFlight() int {
	return c.router.size()
}

// Close tears the connection down. Every in-flight call is failed with
// ErrSocketClosed before the table is cleared, so no caller waits forever
// past an explicit shutdown. Close is idempotent.
func (c *Client) Close() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	c.connMu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client initiated close")
	}
	c.router.failAll(ErrSocketClosed)
	c.publish(StateClosed)
	if c.clientCancel != nil {
		c.clientCancel()
	}
	c.status.shutdown()
	c.config.logger.Info("wsmux: client closed")
	return nil
}
