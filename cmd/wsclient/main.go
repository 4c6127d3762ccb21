// wsclient keeps a resilient session open to a WebSocket server, sends each
// stdin line as a request and logs the responses.
//
// Usage: go run ./cmd/wsclient --config configs/wsclient.yaml
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsession/internal/config"
	"github.com/rickgao/wsession/internal/connection"
	"github.com/rickgao/wsession/internal/database"
	"github.com/rickgao/wsession/internal/events"
	"github.com/rickgao/wsession/internal/metrics"
	"github.com/rickgao/wsession/internal/recorder"
	"github.com/rickgao/wsession/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/wsclient.yaml", "path to config file")
	readStdin := flag.Bool("stdin", true, "send each stdin line as a request")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting wsclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"url", cfg.Session.URL,
	)

	if err := run(cfg, *readStdin, logger); err != nil {
		logger.Error("wsclient failed", "error", err)
		os.Exit(1)
	}
	logger.Info("wsclient stopped")
}

func run(cfg *config.ClientConfig, readStdin bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessCfg, err := cfg.ConnectionConfig()
	if err != nil {
		return err
	}

	dialCfg := cfg.DialerConfig()
	if dialCfg.Header == nil {
		dialCfg.Header = http.Header{}
	}
	if dialCfg.Header.Get("User-Agent") == "" {
		dialCfg.Header.Set("User-Agent", version.UserAgent())
	}

	session, err := connection.NewSession(cfg.Session.URL, sessCfg, connection.NewDialer(dialCfg, logger), logger)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer session.Destroy()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	detachMetrics, err := m.Observe(session)
	if err != nil {
		return fmt.Errorf("observe metrics: %w", err)
	}
	defer detachMetrics()

	if err := logEvents(session, logger); err != nil {
		return err
	}

	// Recorder
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		var pool *pgxpool.Pool
		rec, pool, err = startRecorder(ctx, cfg, session, logger)
		if err != nil {
			return err
		}
		defer shutdownRecorder(rec, pool, logger)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newMux(cfg.Metrics.Path, reg, session, rec),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := session.Close(shutdownCtx); err != nil {
			logger.Warn("session close failed", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		connectCtx, cancel := context.WithTimeout(gctx, 2*sessCfg.ConnectTimeout)
		defer cancel()
		if err := session.Connect(connectCtx); err != nil {
			// Reconnects continue in the background.
			logger.Warn("initial connect failed", "error", err)
		}
		return nil
	})

	if readStdin {
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go sendLines(gctx, session, os.Stdin, sessCfg.DefaultResponseTimeout, logger)
	}

	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func logEvents(s *connection.Session, logger *slog.Logger) error {
	handlers := map[events.Name]func(events.Event){
		events.Message: func(ev events.Event) {
			msg := ev.Payload.(*connection.Message)
			if msg.CorrelationID != "" {
				return
			}
			logger.Info("message", "type", msg.Type, "data", msg.String())
		},
		events.Binary: func(ev events.Event) {
			msg := ev.Payload.(*connection.Message)
			logger.Info("binary message", "bytes", len(msg.Data))
		},
		events.Reconnecting: func(ev events.Event) {
			p := ev.Payload.(connection.ReconnectingEvent)
			logger.Info("reconnecting", "attempt", p.Attempt, "max", p.MaxAttempts, "delay", p.Delay)
		},
		events.Error: func(ev events.Event) {
			p := ev.Payload.(connection.ErrorEvent)
			logger.Warn("session error", "error", p.Err, "fatal", p.Fatal)
		},
	}

	for name, fn := range handlers {
		if _, err := s.On(name, fn); err != nil {
			return fmt.Errorf("listen %s: %w", name, err)
		}
	}
	return nil
}

type poolCloser interface {
	Close()
}

// shutdownRecorder writes what rec still holds, then releases its pool.
func shutdownRecorder(rec *recorder.Recorder, pool poolCloser, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rec.Stop(ctx); err != nil {
		logger.Warn("recorder stop failed", "error", err)
	}
	pool.Close()
	logger.Info("database pool closed")
}

// startRecorder connects to the database and starts recording s. The caller
// closes the pool after stopping the recorder.
func startRecorder(ctx context.Context, cfg *config.ClientConfig, s *connection.Session, logger *slog.Logger) (*recorder.Recorder, *pgxpool.Pool, error) {
	db := cfg.Recorder.Database
	logger.Info("connecting to database", "host", db.Host, "port", db.Port, "database", db.Name)

	pool, err := database.Connect(ctx, db, "wsclient")
	if err != nil {
		return nil, nil, err
	}
	if err := recorder.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	rec := recorder.New(recorder.Config{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
		BufferSize:    cfg.Recorder.BufferSize,
	}, pool, cfg.Instance.ID, logger)

	if _, err := rec.Observe(s); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := rec.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return rec, pool, nil
}

func sendLines(ctx context.Context, s *connection.Session, in *os.File, timeout time.Duration, logger *slog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
		resp, err := s.Send(reqCtx, line)
		cancel()
		if err != nil {
			logger.Warn("request failed", "error", err)
			continue
		}
		logger.Info("response", "correlation_id", resp.CorrelationID, "data", resp.String())

		if ctx.Err() != nil {
			return
		}
	}
}

func newMux(metricsPath string, reg *prometheus.Registry, s *connection.Session, rec *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := s.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["session"] = map[string]any{
			"state":              stats.State.String(),
			"reconnect_attempts": stats.ReconnectAttempts,
			"pending_requests":   stats.PendingRequests,
			"cached_messages":    stats.CachedMessages,
			"evicted_messages":   stats.EvictedMessages,
			"queued_events":      stats.QueuedEvents,
			"last_error":         stats.LastError,
		}
		switch stats.State {
		case connection.StateReady:
		case connection.StateFailed:
			health.Status = "unhealthy"
		default:
			health.Status = "degraded"
		}

		if rec != nil {
			rs := rec.Stats()
			health.Components["recorder"] = map[string]any{
				"received":    rs.Received,
				"inserts":     rs.Inserts,
				"errors":      rs.Errors,
				"buffered":    rs.Buffered,
				"buffer_peak": rs.BufferPeak,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
