package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

// MockServer is a WebSocket server for testing clients. It accepts one
// connection at a time, feeds inbound envelopes to the configured handler,
// and lets tests inject frames or drop the connection.
type MockServer struct {
	T          *testing.T
	Server     *httptest.Server
	WsURL      string
	Conn       *websocket.Conn
	ConnMu     sync.Mutex
	Handler    func(conn *websocket.Conn, ms *MockServer)
	ActiveConn context.CancelFunc // stops the handler for the current connection

	reqMu    sync.Mutex
	lastReq  *http.Request
	connects int
}

// NewMockServer starts a mock WebSocket server. handlerFunc runs once per
// accepted connection; nil means envelopes are read and discarded.
func NewMockServer(t *testing.T, handlerFunc func(conn *websocket.Conn, ms *MockServer)) *MockServer {
	t.Helper()
	ms := &MockServer{T: t, Handler: handlerFunc}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connCtx, connCancel := context.WithCancel(context.Background())
		ms.ActiveConn = connCancel

		ms.reqMu.Lock()
		ms.lastReq = r.Clone(context.Background())
		ms.connects++
		ms.reqMu.Unlock()

		wsconn, err := websocket.Accept(w, r, nil)
		if err != nil {
			ms.T.Logf("MockServer: Accept error: %v", err)
			connCancel()
			return
		}

		ms.ConnMu.Lock()
		ms.Conn = wsconn
		ms.ConnMu.Unlock()

		go func() {
			defer connCancel()
			if ms.Handler != nil {
				ms.Handler(wsconn, ms)
			} else {
				for {
					var env wire.Envelope
					if err := wsjson.Read(connCtx, wsconn, &env); err != nil {
						return
					}
				}
			}
		}()

		<-connCtx.Done()
	}))

	ms.WsURL = "ws" + ms.Server.URL[4:] // Convert http:// to ws://

	t.Cleanup(func() {
		ms.Close()
	})

	return ms
}

// Send writes a frame to the connected client.
func (ms *MockServer) Send(f wire.Frame) error {
	ms.ConnMu.Lock()
	defer ms.ConnMu.Unlock()

	if ms.Conn == nil {
		return nil // No connection, silently ignore
	}
	return wsjson.Write(context.Background(), ms.Conn, f)
}

// Handle installs a per-envelope handler: each inbound envelope is passed to
// handler, and any non-nil frame it returns is written back.
func (ms *MockServer) Handle(handler func(env *wire.Envelope) *wire.Frame) {
	ms.Handler = func(conn *websocket.Conn, srv *MockServer) {
		for {
			var env wire.Envelope
			if err := wsjson.Read(context.Background(), conn, &env); err != nil {
				return
			}
			if f := handler(&env); f != nil {
				srv.Send(*f)
			}
		}
	}
}

// LastRequest returns the HTTP upgrade request of the most recent connection,
// for asserting connection parameters such as credentials.
func (ms *MockServer) LastRequest() *http.Request {
	ms.reqMu.Lock()
	defer ms.reqMu.Unlock()
	return ms.lastReq
}

// Connects reports how many connections the server has accepted.
func (ms *MockServer) Connects() int {
	ms.reqMu.Lock()
	defer ms.reqMu.Unlock()
	return ms.connects
}

// CloseCurrentConnection drops the live WebSocket connection, simulating a
// transport failure. The server keeps listening, so clients can reconnect.
func (ms *MockServer) CloseCurrentConnection() {
	ms.ConnMu.Lock()
	defer ms.ConnMu.Unlock()

	if ms.Conn != nil {
		ms.Conn.Close(websocket.StatusNormalClosure, "Test closing connection")
		ms.Conn = nil
	}

	if ms.ActiveConn != nil {
		ms.ActiveConn()
		ms.ActiveConn = nil
	}
}

// Close shuts the mock server down.
func (ms *MockServer) Close() {
	ms.CloseCurrentConnection()
	if ms.Server != nil {
		ms.Server.Close()
	}
}
