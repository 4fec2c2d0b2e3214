package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultCallTimeout       = 10 * time.Second
	defaultCallRetries       = 3
	defaultWriteTimeout      = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultMaxReconnects     = 10
	defaultReconnectBase     = 2 * time.Second
	defaultReconnectMaxDelay = 30 * time.Second
	defaultRetryBase         = 1 * time.Second
	defaultRetryMaxDelay     = 30 * time.Second
)

type clientConfig struct {
	logger      *slog.Logger
	dialOptions *websocket.DialOptions
	credential  string

	defaultTimeout time.Duration
	defaultRetries int
	writeTimeout   time.Duration
	dialTimeout    time.Duration

	maxReconnects int
	reconnectBase time.Duration
	reconnectMax  time.Duration
	retryBase     time.Duration
	retryMax      time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.config.logger = logger
		}
	}
}

// WithCredential sets the bearer token transmitted as a connection
// parameter on every (re)connect. It is never sent per-request.
func WithCredential(token string) Option {
	return func(c *Client) {
		c.config.credential = token
	}
}

// WithDialOptions sets custom websocket.DialOptions.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) {
		if opts != nil {
			c.config.dialOptions = opts
		}
	}
}

// WithDefaultTimeout sets the default per-attempt timeout for calls.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.defaultTimeout = timeout
		}
	}
}

// WithDefaultRetries sets the default retry budget for calls.
func WithDefaultRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.config.defaultRetries = retries
		}
	}
}

// WithWriteTimeout sets the timeout for a single envelope write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.writeTimeout = timeout
		}
	}
}

// WithMaxReconnectAttempts sets how many consecutive reconnect attempts are
// made before the connection is marked permanently failed.
func WithMaxReconnectAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.config.maxReconnects = attempts
		}
	}
}

// WithReconnectDelay sets the reconnect backoff base and cap.
func WithReconnectDelay(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.config.reconnectBase = base
		}
		if max > 0 && max >= base {
			c.config.reconnectMax = max
		} else if max > 0 {
			c.config.reconnectMax = base
		}
	}
}

// WithRetryDelay sets the per-call send-retry backoff base and cap.
func WithRetryDelay(base, max time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.config.retryBase = base
		}
		if max > 0 && max >= base {
			c.config.retryMax = max
		} else if max > 0 {
			c.config.retryMax = base
		}
	}
}

// WithContext sets a parent context for the client. When it is cancelled the
// client shuts down all operations.
func WithContext(ctx context.Context) Option {
	return func(c *Client) {
		c.clientCtx, c.clientCancel = context.WithCancel(ctx)
	}
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger:         slog.Default(),
		dialOptions:    &websocket.DialOptions{HTTPClient: http.DefaultClient},
		defaultTimeout: defaultCallTimeout,
		defaultRetries: defaultCallRetries,
		writeTimeout:   defaultWriteTimeout,
		dialTimeout:    defaultDialTimeout,
		maxReconnects:  defaultMaxReconnects,
		reconnectBase:  defaultReconnectBase,
		reconnectMax:   defaultReconnectMaxDelay,
		retryBase:      defaultRetryBase,
		retryMax:       defaultRetryMaxDelay,
	}
}

// Options contains configuration values for ConnectWithOptions.
type Options struct {
	Logger               *slog.Logger
	DialOptions          *websocket.DialOptions
	Credential           string
	DefaultTimeout       time.Duration
	DefaultRetries       int
	WriteTimeout         time.Duration
	MaxReconnectAttempts int
	ReconnectDelayBase   time.Duration
	ReconnectDelayMax    time.Duration
	RetryDelayBase       time.Duration
	RetryDelayMax        time.Duration
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:               slog.Default(),
		DefaultTimeout:       defaultCallTimeout,
		DefaultRetries:       defaultCallRetries,
		WriteTimeout:         defaultWriteTimeout,
		MaxReconnectAttempts: defaultMaxReconnects,
		ReconnectDelayBase:   defaultReconnectBase,
		ReconnectDelayMax:    defaultReconnectMaxDelay,
		RetryDelayBase:       defaultRetryBase,
		RetryDelayMax:        defaultRetryMaxDelay,
	}
}

// ConnectWithOptions establishes a connection using an Options struct.
func ConnectWithOptions(urlStr string, opts Options) (*Client, error) {
	fns := []Option{WithLogger(opts.Logger)}
	if opts.DialOptions != nil {
		fns = append(fns, WithDialOptions(opts.DialOptions))
	}
	if opts.Credential != "" {
		fns = append(fns, WithCredential(opts.Credential))
	}
	fns = append(fns,
		WithDefaultTimeout(opts.DefaultTimeout),
		WithDefaultRetries(opts.DefaultRetries),
		WithWriteTimeout(opts.WriteTimeout),
		WithMaxReconnectAttempts(opts.MaxReconnectAttempts),
		WithReconnectDelay(opts.ReconnectDelayBase, opts.ReconnectDelayMax),
		WithRetryDelay(opts.RetryDelayBase, opts.RetryDelayMax),
	)
	return Connect(urlStr, fns...)
}

// CallOption overrides per-call defaults.
type CallOption func(*callOptions)

type callOptions struct {
	timeout    time.Duration
	retries    int
	routingTag string
}

// WithTimeout overrides the per-attempt timeout for one call.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRetries overrides the retry budget for one call.
func WithRetries(retries int) CallOption {
	return func(o *callOptions) {
		if retries >= 0 {
			o.retries = retries
		}
	}
}

// WithRoutingTag attaches a routing tag selecting a named logical pipeline on
// the remote side.
func WithRoutingTag(tag string) CallOption {
	return func(o *callOptions) {
		o.routingTag = tag
	}
}
