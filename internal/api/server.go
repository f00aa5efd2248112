// Package api provides the HTTP server for barwise: the intention and fill
// journal, current positions, cached bars, Prometheus metrics and a
// WebSocket feed of live intentions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"barwise/internal/config"
	"barwise/internal/domain"
	"barwise/internal/store"
)

const defaultIntentionLimit = 100

// PositionSource reports the fill-driven position of every instrument.
type PositionSource interface {
	Positions() map[string]domain.PositionState
}

// Deps are the collaborators the server reads from. Any of them may be nil;
// the matching routes then answer 503.
type Deps struct {
	Journal    store.JournalReader
	Bars       store.BarStore
	Positions  PositionSource
	Strategies func() []string
	Metrics    http.Handler
	Hub        *Hub
}

// Server is the main API server.
type Server struct {
	addr string
	deps Deps
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a new Server listening on cfg.Server.Host:Port.
func NewServer(cfg *config.Config, deps Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		deps: deps,
		log:  log.With("component", "api"),
	}
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/intentions", s.handleIntentions)
	mux.HandleFunc("GET /api/fills", s.handleFills)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/bars/{symbol}", s.handleBars)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.Hub != nil {
		mux.Handle("GET /ws", s.deps.Hub)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe starts the hub and the HTTP listener and blocks until ctx
// is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.deps.Hub != nil {
		go s.deps.Hub.Run(ctx)
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Strategies == nil {
		writeError(w, http.StatusServiceUnavailable, "strategies not configured")
		return
	}
	names := s.deps.Strategies()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, names)
}

func (s *Server) handleIntentions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit := defaultIntentionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.deps.Journal.ListIntentions(r.Context(), r.URL.Query().Get("strategy"), limit)
	if err != nil {
		s.log.Error("listing intentions", "error", err)
		writeError(w, http.StatusInternalServerError, "listing intentions failed")
		return
	}
	out := make([]IntentionJSON, len(list))
	for i, in := range list {
		out[i] = toIntentionJSON(in)
	}
	writeJSON(w, out)
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	list, err := s.deps.Journal.ListFills(r.Context(), symbol)
	if err != nil {
		s.log.Error("listing fills", "error", err)
		writeError(w, http.StatusInternalServerError, "listing fills failed")
		return
	}
	out := make([]FillJSON, len(list))
	for i, f := range list {
		out[i] = toFillJSON(f)
	}
	writeJSON(w, out)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Positions == nil {
		writeError(w, http.StatusServiceUnavailable, "positions not available")
		return
	}
	snap := s.deps.Positions.Positions()
	out := make([]PositionJSON, 0, len(snap))
	for sym, st := range snap {
		out = append(out, PositionJSON{Symbol: sym, State: string(st)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	writeJSON(w, out)
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bars == nil {
		writeError(w, http.StatusServiceUnavailable, "bar store not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	start, err := parseDate(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDate(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !end.IsZero() {
		// inclusive of the whole end day
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	bars, err := s.deps.Bars.ReadBars(r.Context(), symbol, start, end)
	if err != nil {
		s.log.Error("reading bars", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "reading bars failed")
		return
	}
	out := make([]BarJSON, len(bars))
	for i, b := range bars {
		out[i] = toBarJSON(b)
	}
	writeJSON(w, out)
}

// parseDate accepts YYYY-MM-DD or the empty string.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}
