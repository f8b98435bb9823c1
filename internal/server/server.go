// Package server exposes the HTTP surface of the backend: status, the
// calibration endpoints, the last reading, the WebSocket stream and metrics.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"smartcrowd.klederson.com/internal/bluetooth"
	"smartcrowd.klederson.com/internal/broadcast"
	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
	"smartcrowd.klederson.com/internal/metrics"
	"smartcrowd.klederson.com/internal/pipeline"
)

const shutdownTimeout = 5 * time.Second

// LinkStatus reports the tracker link state.
type LinkStatus interface {
	State() bluetooth.State
}

// ReadingSource returns the most recently parsed reading.
type ReadingSource interface {
	Last() (bluetooth.SensorReading, bool)
}

// Server wires the calibration store and the hub to HTTP.
type Server struct {
	store    *calibration.Store
	hub      *broadcast.Hub
	link     LinkStatus
	readings ReadingSource
	gatherer prometheus.Gatherer
	log      *zap.Logger
	metrics  *metrics.Metrics

	writeTimeout time.Duration
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Link         LinkStatus
	Readings     ReadingSource
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	WriteTimeout time.Duration
}

// New creates a server. Every calibration change made through store is
// pushed to the hub's subscribers as a calibration_update.
func New(store *calibration.Store, hub *broadcast.Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = config.WriteTimeout
	}
	s := &Server{
		store:        store,
		hub:          hub,
		link:         opts.Link,
		readings:     opts.Readings,
		gatherer:     opts.Gatherer,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		writeTimeout: opts.WriteTimeout,
	}
	store.OnChange(func(t calibration.Table) {
		hub.Broadcast(context.Background(), pipeline.CalibrationUpdate(t))
	})
	return s
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(corsMiddleware(s.ServeMux()))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.showStatus)
	mux.HandleFunc("/calibration", s.calibrationHandler)
	mux.HandleFunc("/calibration/reset", s.resetCalibration)
	mux.HandleFunc("/reading", s.showReading)
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// closes every subscriber.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path != "/" {
		s.writeJSONError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	link := bluetooth.Disconnected
	if s.link != nil {
		link = s.link.State()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     config.ServiceName,
		"link":        link.String(),
		"subscribers": s.hub.Count(),
	})
}

func (s *Server) calibrationHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, map[string]any{"calibration": s.store.All()})
	case http.MethodPost:
		s.updateCalibration(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type calibrationRequest struct {
	AnchorID    string   `json:"anchor_id"`
	RSSIAt1m    *float64 `json:"rssi_1m"`
	PathLossExp *float64 `json:"n"`
}

func (s *Server) updateCalibration(w http.ResponseWriter, r *http.Request) {
	var req calibrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.AnchorID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'anchor_id'")
		return
	}
	if !calibration.IsAnchor(req.AnchorID) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown anchor %q", req.AnchorID))
		return
	}
	if !s.store.Update(req.AnchorID, req.RSSIAt1m, req.PathLossExp) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid calibration values")
		return
	}
	s.metrics.CalibrationChanged("update")
	s.log.Info("Calibration updated", zap.String("anchor", req.AnchorID), zap.String("source", "http"))

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "updated",
		"calibration": s.store.All(),
	})
}

func (s *Server) resetCalibration(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.store.Reset()
	s.metrics.CalibrationChanged("reset")
	s.log.Info("Calibration reset to defaults")

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reset",
		"calibration": s.store.All(),
	})
}

func (s *Server) showReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.readings == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	reading, ok := s.readings.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through the logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
