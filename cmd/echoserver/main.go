// echoserver is a WebSocket server for exercising wsclient by hand. It
// answers auth frames, echoes every other JSON frame back with its
// correlation id, and can drop connections to trigger reconnects.
//
// Usage: go run ./cmd/echoserver --addr :8081 --token secret --drop-every 20
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/rickgao/wsession/internal/auth"
	"github.com/rickgao/wsession/internal/version"
)

type server struct {
	token     string
	dropEvery int64
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	conns     atomic.Int64
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	token := flag.String("token", "", "expected auth token, empty accepts any")
	dropEvery := flag.Int64("drop-every", 0, "close each connection after this many echoed frames, 0 never")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	srv := &server{
		token:     *token,
		dropEvery: *dropEvery,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handle)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("echo server listening", "addr", *addr, "version", version.String())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("echo server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("echo server stopped")
}

func (s *server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := s.conns.Add(1)
	logger := s.logger.With("conn", id, "remote", r.RemoteAddr, "user_agent", r.UserAgent())
	logger.Info("client connected")

	var echoed int64
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("client disconnected", "error", err)
			return
		}

		if mt == websocket.BinaryMessage {
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
			continue
		}

		reply, ok := s.reply(data, logger)
		if !ok {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			logger.Warn("write failed", "error", err)
			return
		}

		echoed++
		if s.dropEvery > 0 && echoed%s.dropEvery == 0 {
			logger.Info("dropping connection", "echoed", echoed)
			return
		}
	}
}

// reply builds the response to one text frame. Heartbeats get none.
func (s *server) reply(data []byte, logger *slog.Logger) ([]byte, bool) {
	if !gjson.ValidBytes(data) {
		logger.Warn("invalid frame", "data", string(data))
		return nil, false
	}

	switch gjson.GetBytes(data, "type").String() {
	case auth.TypeRequest:
		resp := auth.Response{Type: auth.TypeResponse, Success: true}
		if s.token != "" && gjson.GetBytes(data, "token").String() != s.token {
			resp.Success = false
			resp.Error = "invalid token"
		}
		logger.Info("auth", "success", resp.Success, "client_id", gjson.GetBytes(data, "clientId").String())
		out, err := json.Marshal(resp)
		if err != nil {
			logger.Error("encode auth response", "error", err)
			return nil, false
		}
		return out, true
	case "heartbeat":
		logger.Debug("heartbeat", "client_id", gjson.GetBytes(data, "clientId").String())
		return nil, false
	}

	out, err := sjson.SetBytes(data, "echoed_at", time.Now().UnixMilli())
	if err != nil {
		return data, true
	}
	return out, true
}
