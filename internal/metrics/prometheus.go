package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exports trading activity to Prometheus.
type Recorder struct {
	cycles        *prometheus.CounterVec
	signals       *prometheus.CounterVec
	trades        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	indicators    *prometheus.GaugeVec
	progress      prometheus.Gauge
	reconciled    *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_cycles_total",
				Help: "Decision cycles run, by outcome",
			},
			[]string{"symbol", "outcome"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_signals_total",
				Help: "Signals generated",
			},
			[]string{"symbol", "signal"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_trades_total",
				Help: "Trade records written, by status",
			},
			[]string{"symbol", "status"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_errors_total",
				Help: "Errors encountered",
			},
			[]string{"type"},
		),
		indicators: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autotrader_indicator_value",
				Help: "Latest indicator values",
			},
			[]string{"symbol", "indicator"},
		),
		progress: f.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_growth_progress_percent",
			Help: "Progress toward the growth target",
		}),
		reconciled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_reconciled_trades_total",
				Help: "Pending trades checked by the reconciler, by result",
			},
			[]string{"result"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autotrader_cycle_duration_seconds",
				Help:    "Duration of decision cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}
}

func (r *Recorder) RecordCycle(symbol, outcome string, seconds float64) {
	r.cycles.WithLabelValues(symbol, outcome).Inc()
	r.cycleDuration.WithLabelValues(symbol).Observe(seconds)
}

func (r *Recorder) RecordSignal(symbol, signal string) {
	r.signals.WithLabelValues(symbol, signal).Inc()
}

func (r *Recorder) RecordTrade(symbol, status string) {
	r.trades.WithLabelValues(symbol, status).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordIndicators(symbol string, rsi, macd, signal, histogram float64) {
	r.indicators.WithLabelValues(symbol, "rsi").Set(rsi)
	r.indicators.WithLabelValues(symbol, "macd").Set(macd)
	r.indicators.WithLabelValues(symbol, "macd_signal").Set(signal)
	r.indicators.WithLabelValues(symbol, "macd_histogram").Set(histogram)
}

func (r *Recorder) RecordProgress(percent float64) {
	r.progress.Set(percent)
}

func (r *Recorder) RecordReconcile(checked, updated, failed int) {
	r.reconciled.WithLabelValues("checked").Add(float64(checked))
	r.reconciled.WithLabelValues("updated").Add(float64(updated))
	r.reconciled.WithLabelValues("failed").Add(float64(failed))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordCycle(string, string, float64)                         {}
func (Nop) RecordSignal(string, string)                                 {}
func (Nop) RecordTrade(string, string)                                  {}
func (Nop) RecordError(string)                                          {}
func (Nop) RecordIndicators(string, float64, float64, float64, float64) {}
func (Nop) RecordProgress(float64)                                      {}
func (Nop) RecordReconcile(int, int, int)                               {}
