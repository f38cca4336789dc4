// Package app assembles the production process: logging router, metrics,
// background jobs, websocket sessions, hub, and HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	server "lobbysim/server"
	"lobbysim/server/internal/jobs"
	servernet "lobbysim/server/internal/net"
	"lobbysim/server/internal/net/ws"
	"lobbysim/server/internal/telemetry"
	"lobbysim/server/logging"
	loggingSinks "lobbysim/server/logging/sinks"
)

type Config struct {
	Logger telemetry.Logger
	Addr   string
}

func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	logConfig := logging.DefaultConfig()
	if raw := os.Getenv("LOG_SINKS"); raw != "" {
		logConfig.EnabledSinks = splitList(raw)
	}
	if raw := os.Getenv("LOG_JSON_PATH"); raw != "" {
		logConfig.JSON.FilePath = raw
	}

	namedSinks := []logging.NamedSink{}
	if logConfig.HasSink("console") {
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "console",
			Sink: loggingSinks.NewConsoleSink(os.Stdout, logConfig.Console),
		})
	}
	if logConfig.HasSink("json") && logConfig.JSON.FilePath != "" {
		file, err := os.OpenFile(logConfig.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open json log file: %w", err)
		}
		defer file.Close()
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSONSink(file, logConfig.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(ctx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	metrics := logging.NewMetrics()

	runner := jobs.NewRunner(2, 64, logger, telemetry.WrapMetrics(metrics))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := runner.Close(closeCtx); cerr != nil {
			logger.Printf("failed to drain background jobs: %v", cerr)
		}
	}()

	hubCfg := server.DefaultHubConfig()
	if raw := os.Getenv("TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.TickRate = value
		} else {
			logger.Printf("invalid TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SEND_INTERVAL_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			hubCfg.SendInterval = time.Duration(value) * time.Millisecond
		} else {
			logger.Printf("invalid SEND_INTERVAL_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SNAPSHOT_PATH"); raw != "" {
		hubCfg.SnapshotPath = raw
	}

	sessions := ws.NewSessions(server.ProtocolVersion, logger)

	hubCfg.Logger = logger
	hubCfg.Metrics = telemetry.WrapMetrics(metrics)
	hubCfg.Publisher = router
	hubCfg.Jobs = runner
	hubCfg.Transport = sessions

	hub := server.NewHub(hubCfg)
	hub.LoadSnapshot(ctx)

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	wsHandler := ws.NewHandler(hub, sessions, ws.HandlerConfig{Logger: logger})
	handler := servernet.NewHTTPHandler(hub, wsHandler, servernet.HTTPHandlerConfig{Logger: logger})

	addr := cfg.Addr
	if addr == "" {
		addr = ":5000"
	}
	if raw := os.Getenv("LISTEN_ADDR"); raw != "" {
		addr = raw
	}

	srv := &http.Server{Addr: addr, Handler: handler}
	logger.Printf("server listening on %s", srv.Addr)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
