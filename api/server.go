package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matt-g-everett/animtx/stream"
)

// StatsSource reports the current playback stats.
type StatsSource interface {
	Stats() stream.Stats
}

// CommandSink accepts parsed control commands.
type CommandSink interface {
	Submit(cmd stream.Command) bool
}

// Api serves playback stats and accepts control messages over HTTP.
type Api struct {
	stats    StatsSource
	commands CommandSink
	log      *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader
}

// NewApi creates an instance of an Api. Websocket clients get a stats
// message every interval.
func NewApi(stats StatsSource, commands CommandSink, interval time.Duration, log *slog.Logger) *Api {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Api{
		stats:    stats,
		commands: commands,
		log:      log,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routes:
//
//	GET  /stats    current stats as JSON
//	GET  /health   200 unless the render stall is fatal
//	POST /control  one control message, same format as the MQTT topic
//	GET  /ws       stats pushed over a websocket
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /control", a.handleControl)
	mux.HandleFunc("GET /ws", a.handleWebsocket)
	return mux
}

// Serve listens on addr until ctx is done.
func (a *Api) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("api listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (a *Api) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stats.Stats())
}

func (a *Api) handleHealth(w http.ResponseWriter, r *http.Request) {
	stall := a.stats.Stats().Stall
	status := http.StatusOK
	if stall == stream.StallFatal {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]stream.StallState{"stall": stall})
}

func (a *Api) handleControl(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd, err := stream.ParseCommand(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !a.commands.Submit(cmd) {
		http.Error(w, "control queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *Api) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(a.stats.Stats()); err != nil {
			a.log.Debug("websocket closed", "err", err)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}
