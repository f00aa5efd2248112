// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barwise/internal/domain"
)

// Metrics holds the collectors for one engine. Each instance owns its
// registry so several can coexist in one process.
type Metrics struct {
	reg *prometheus.Registry

	BarsTotal       *prometheus.CounterVec // strategy, symbol
	BarsSkipped     *prometheus.CounterVec // strategy, symbol, reason
	IntentionsTotal *prometheus.CounterVec // strategy, symbol, direction
	FillsTotal      *prometheus.CounterVec // strategy, symbol, side
	Position        *prometheus.GaugeVec   // strategy, symbol; -1 short, 0 flat, 1 long
	Indicator       *prometheus.GaugeVec   // strategy, symbol, name
	LastBar         *prometheus.GaugeVec   // strategy, symbol; unix seconds
}

// NewMetrics creates and registers all collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barwise_bars_total",
			Help: "Bars evaluated by a policy",
		}, []string{"strategy", "symbol"}),
		BarsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barwise_bars_skipped_total",
			Help: "Bars rejected before evaluation",
		}, []string{"strategy", "symbol", "reason"}),
		IntentionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barwise_intentions_total",
			Help: "Trading intentions emitted",
		}, []string{"strategy", "symbol", "direction"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "barwise_fills_total",
			Help: "Confirmed fills applied",
		}, []string{"strategy", "symbol", "side"}),
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barwise_position",
			Help: "Position state per instrument: -1 short, 0 flat, 1 long",
		}, []string{"strategy", "symbol"}),
		Indicator: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barwise_indicator_value",
			Help: "Latest indicator reading",
		}, []string{"strategy", "symbol", "name"}),
		LastBar: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "barwise_indicator_timestamp_seconds",
			Help: "Bar time of the latest indicator reading",
		}, []string{"strategy", "symbol"}),
	}
	m.reg.MustRegister(
		m.BarsTotal,
		m.BarsSkipped,
		m.IntentionsTotal,
		m.FillsTotal,
		m.Position,
		m.Indicator,
		m.LastBar,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// BarProcessed implements engine.Recorder.
func (m *Metrics) BarProcessed(strategy, symbol string) {
	m.BarsTotal.WithLabelValues(strategy, symbol).Inc()
}

// BarSkipped implements engine.Recorder.
func (m *Metrics) BarSkipped(strategy, symbol, reason string) {
	m.BarsSkipped.WithLabelValues(strategy, symbol, reason).Inc()
}

// IntentionEmitted implements engine.Recorder.
func (m *Metrics) IntentionEmitted(in domain.Intention) {
	m.IntentionsTotal.WithLabelValues(in.StrategyID, in.Symbol, string(in.Direction)).Inc()
}

// FillApplied implements engine.Recorder.
func (m *Metrics) FillApplied(strategy string, f domain.Fill, state domain.PositionState) {
	m.FillsTotal.WithLabelValues(strategy, f.Symbol, string(f.Side)).Inc()
	m.Position.WithLabelValues(strategy, f.Symbol).Set(positionValue(state))
}

// TrackIndicators implements strategy.Observer.
func (m *Metrics) TrackIndicators(strategyID, symbol string, ts time.Time, samples []domain.IndicatorSample) {
	for _, s := range samples {
		m.Indicator.WithLabelValues(strategyID, symbol, s.Name).Set(s.Value.InexactFloat64())
	}
	m.LastBar.WithLabelValues(strategyID, symbol).Set(float64(ts.Unix()))
}

func positionValue(s domain.PositionState) float64 {
	switch s {
	case domain.PositionLong:
		return 1
	case domain.PositionShort:
		return -1
	default:
		return 0
	}
}

// Serve starts a metrics-only HTTP server on addr in the background.
// Listener failures are logged to log, or slog.Default when nil.
func (m *Metrics) Serve(addr string, log *slog.Logger) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv
}
