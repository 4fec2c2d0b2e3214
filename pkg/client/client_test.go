package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/relayforge/go-wsmux/pkg/client"
	"github.com/relayforge/go-wsmux/pkg/testutil"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// echoHandler answers every envelope with its own request payload.
func echoHandler(env *wire.Envelope) *wire.Frame {
	return &wire.Frame{ID: env.ID, Response: env.Request}
}

func fastOptions(extra ...client.Option) []client.Option {
	opts := []client.Option{
		client.WithLogger(testLogger),
		client.WithDefaultTimeout(2 * time.Second),
		client.WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond),
		client.WithRetryDelay(10*time.Millisecond, 50*time.Millisecond),
	}
	return append(opts, extra...)
}

func TestConnectRejectsInvalidURL(t *testing.T) {
	_, err := client.Connect("://missing-scheme")
	assert.Error(t, err)
}

func TestCallEcho(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := cli.Call(ctx, "echo", map[string]int{"x": 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":42}`, string(resp))
	assert.Equal(t, 0, cli.InFlight())
}

func TestRequestTyped(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	type payload struct {
		X int `json:"x"`
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Request[payload](ctx, cli, "echo", payload{X: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.X)
}

func TestCallRemoteError(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(func(env *wire.Envelope) *wire.Frame {
		return &wire.Frame{
			ID:       env.ID,
			Response: json.RawMessage(`{"error":{"message":"unknown service"}}`),
		}
	})

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = cli.Call(ctx, "nope", nil)
	require.Error(t, err)
	var rerr *wire.RemoteError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, "unknown service", err.Error())
	assert.Equal(t, 0, cli.InFlight())
}

func TestCallCarriesRoutingTag(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)

	var mu sync.Mutex
	var seen *wire.Envelope
	ms.Handle(func(env *wire.Envelope) *wire.Frame {
		mu.Lock()
		seen = env
		mu.Unlock()
		return echoHandler(env)
	})

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = cli.Call(ctx, "echo", nil, client.WithRoutingTag("bulk"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen)
	assert.Equal(t, "bulk", seen.RoutingTag)
	assert.Equal(t, "echo", seen.Service)
}

func TestCredentialSentAsConnectionParameter(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	cli, err := client.Connect(ms.WsURL, fastOptions(client.WithCredential("secret-token"))...)
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, testutil.WaitFor(t, "client connected", 5*time.Second, func() bool {
		return cli.Status().State == client.StateOpen
	}))

	req := ms.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "secret-token", req.URL.Query().Get("token"))
	assert.True(t, cli.Status().HasCredential)
}

func TestCloseFailsInFlightCalls(t *testing.T) {
	// A server that never answers, so calls stay in flight.
	ms := testutil.NewMockServer(t, nil)

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)

	require.NoError(t, testutil.WaitFor(t, "client connected", 5*time.Second, func() bool {
		return cli.Status().State == client.StateOpen
	}))

	const calls = 3
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := cli.Call(ctx, "never.answers", nil)
			errs <- err
		}()
	}

	require.NoError(t, testutil.WaitFor(t, "calls registered", 5*time.Second, func() bool {
		return cli.InFlight() == calls
	}))

	require.NoError(t, cli.Close())

	for i := 0; i < calls; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, client.ErrSocketClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("call did not fail after Close")
		}
	}
	assert.Equal(t, 0, cli.InFlight())

	// New calls after Close fast-fail.
	_, err = cli.Call(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, client.ErrClientClosed)

	assert.NoError(t, cli.Close())
}

func TestCallSurvivesReconnect(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	cli, err := client.Connect(ms.WsURL, fastOptions(
		client.WithDefaultTimeout(500*time.Millisecond),
		client.WithDefaultRetries(10),
	)...)
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, testutil.WaitFor(t, "client connected", 5*time.Second, func() bool {
		return cli.Status().State == client.StateOpen
	}))

	ms.CloseCurrentConnection()

	// Issued against a dropped transport: the call must back off, ride the
	// reconnect, and resolve on the fresh connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := cli.Call(ctx, "echo", map[string]string{"v": "back"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"back"}`, string(resp))
	assert.GreaterOrEqual(t, ms.Connects(), 2, "expected a reconnect")
}

func TestReconnectExhaustionFailsClient(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	wsURL := ms.WsURL
	ms.Close() // nothing listening: every dial fails

	cli, err := client.Connect(wsURL, fastOptions(
		client.WithMaxReconnectAttempts(2),
	)...)
	require.NoError(t, err)
	defer cli.Close()

	require.NoError(t, testutil.WaitFor(t, "connection marked failed", 10*time.Second, func() bool {
		return cli.Status().State == client.StateFailed
	}))
	assert.NotEmpty(t, cli.Status().LastError)

	_, err = cli.Call(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, client.ErrConnectionFailed)
}

func TestStreamOverConnection(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(func(env *wire.Envelope) *wire.Frame {
		if env.Service != "numbers" {
			return echoHandler(env)
		}
		for i := 1; i <= 2; i++ {
			chunk, _ := json.Marshal(map[string]int{"seq": i})
			ms.Send(wire.Frame{ID: env.ID, Response: chunk})
		}
		final, _ := json.Marshal(map[string]interface{}{"seq": 3, "done": true})
		return &wire.Frame{ID: env.ID, Response: final}
	})

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	var mu sync.Mutex
	var seqs []int
	stream, err := cli.Stream("numbers", nil, func(raw json.RawMessage) bool {
		var c struct {
			Seq  int  `json:"seq"`
			Done bool `json:"done"`
		}
		json.Unmarshal(raw, &c)
		mu.Lock()
		seqs = append(seqs, c.Seq)
		mu.Unlock()
		return c.Done
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := stream.Wait(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"seq":3,"done":true}`, string(final))

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, seqs)
	mu.Unlock()
	assert.Equal(t, 0, cli.InFlight())
	assert.NoError(t, stream.Err())
}

func TestStreamRequiresReceiver(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Stream("numbers", nil, nil)
	assert.Error(t, err)
}

func TestStatusSubscription(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	cli, err := client.Connect(ms.WsURL, fastOptions()...)
	require.NoError(t, err)

	var mu sync.Mutex
	var states []client.ConnState
	unsub := cli.Subscribe(func(s client.Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, testutil.WaitFor(t, "open observed", 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range states {
			if s == client.StateOpen {
				return true
			}
		}
		return false
	}))

	cli.Close()

	require.NoError(t, testutil.WaitFor(t, "closed observed", 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && states[len(states)-1] == client.StateClosed
	}))
}

func TestConnectWithOptions(t *testing.T) {
	ms := testutil.NewMockServer(t, nil)
	ms.Handle(echoHandler)

	opts := client.DefaultOptions()
	opts.Logger = testLogger
	opts.DefaultTimeout = 2 * time.Second
	opts.ReconnectDelayBase = 10 * time.Millisecond
	opts.ReconnectDelayMax = 50 * time.Millisecond

	cli, err := client.ConnectWithOptions(ms.WsURL, opts)
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := cli.Call(ctx, "echo", map[string]bool{"ok": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp))

	assert.NotEmpty(t, cli.ID())
}
