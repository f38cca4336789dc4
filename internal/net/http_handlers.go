// Package net exposes the HTTP surface: the websocket upgrade endpoint plus
// diagnostics and schema routes.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"lobbysim/server"
	"lobbysim/server/internal/net/ws"
	"lobbysim/server/internal/snapshot"
	"lobbysim/server/internal/telemetry"
)

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
}

func NewHTTPHandler(hub *server.Hub, wsHandler *ws.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/ws", wsHandler.Handle)

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string                     `json:"status"`
			ServerTime int64                      `json:"serverTime"`
			Tick       uint64                     `json:"tick"`
			TickRate   int                        `json:"tickRate"`
			Clients    []server.ClientDiagnostics `json:"clients"`
			Telemetry  server.TelemetrySnapshot   `json:"telemetry"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       hub.Tick(),
			TickRate:   hub.TickRate(),
			Clients:    hub.DiagnosticsSnapshot(),
			Telemetry:  hub.TelemetrySnapshot(),
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/snapshot-schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		data, err := snapshot.SchemaJSON()
		if err != nil {
			httpError(w, "failed to reflect schema", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	return mux
}

func httpError(w nethttp.ResponseWriter, message string, code int) {
	nethttp.Error(w, message, code)
}
