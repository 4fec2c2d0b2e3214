// echoserver is a demo server speaking the wsmux wire protocol. It answers
// the "echo" service with the request payload, streams numbered chunks for
// "echo.stream", and returns a remote error for "fail". Useful for manual
// testing of the client and the wsmux CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/relayforge/go-wsmux/pkg/wire"
)

type streamRequest struct {
	Count   int `json:"count"`
	DelayMs int `json:"delayMs"`
}

type chunk struct {
	Seq  int  `json:"seq"`
	Done bool `json:"done"`
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	token := flag.String("token", "", "require this connection token (empty disables auth)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if *token != "" && r.URL.Query().Get("token") != *token {
			logger.Warn("rejected connection with bad token", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Error("accept failed", "error", err)
			return
		}
		logger.Info("client connected", "remote", r.RemoteAddr)
		serve(r.Context(), conn, logger)
	})

	logger.Info("echoserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	defer conn.Close(websocket.StatusNormalClosure, "handler finished")
	for {
		var env wire.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			logger.Info("client disconnected", "error", err)
			return
		}
		logger.Info("request", "id", env.ID, "service", env.Service, "routingTag", env.RoutingTag)

		switch env.Service {
		case "echo":
			write(ctx, conn, logger, wire.Frame{ID: env.ID, Response: env.Request})
		case "echo.slow":
			time.Sleep(2 * time.Second)
			write(ctx, conn, logger, wire.Frame{ID: env.ID, Response: env.Request})
		case "echo.stream":
			var req streamRequest
			if len(env.Request) > 0 {
				json.Unmarshal(env.Request, &req)
			}
			if req.Count <= 0 {
				req.Count = 3
			}
			for i := 1; i <= req.Count; i++ {
				payload, _ := json.Marshal(chunk{Seq: i, Done: i == req.Count})
				write(ctx, conn, logger, wire.Frame{ID: env.ID, Response: payload})
				if req.DelayMs > 0 {
					time.Sleep(time.Duration(req.DelayMs) * time.Millisecond)
				}
			}
		case "fail":
			resp, _ := json.Marshal(map[string]interface{}{
				"error": map[string]string{"message": "service 'fail' always fails", "type": "demo_failure"},
			})
			write(ctx, conn, logger, wire.Frame{ID: env.ID, Response: resp})
		default:
			resp, _ := json.Marshal(map[string]interface{}{
				"error": map[string]string{"message": "unknown service: " + env.Service, "type": "unknown_service"},
			})
			write(ctx, conn, logger, wire.Frame{ID: env.ID, Response: resp})
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, logger *slog.Logger, f wire.Frame) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(wctx, conn, f); err != nil {
		logger.Error("write failed", "id", f.ID, "error", err)
	}
}
