// Package metrics exposes cycle and delivery counters in the Prometheus
// text format. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "ipwatch/pkg/logx"
)

const namespace = "ipwatch"

type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	skippedTicks  prometheus.Counter
	changes       prometheus.Counter
	deliveries    *prometheus.CounterVec
	pruned        prometheus.Counter
	targets       *prometheus.CounterVec
	subscribers   prometheus.Gauge
	lastChange    prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Detection cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one detection cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "skipped_ticks_total",
			Help: "Ticks dropped because a cycle was still running.",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "changes_total",
			Help: "Observed value changes that were durably recorded.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Notification attempts by sink and result.",
		}, []string{"sink", "result"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pruned_subscribers_total",
			Help: "Subscribers removed after a permanent delivery failure.",
		}),
		targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "target_updates_total",
			Help: "Remote record updates by result.",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers",
			Help: "Current number of subscribers.",
		}),
		lastChange: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_change_timestamp_seconds",
			Help: "Unix time of the last recorded change.",
		}),
	}
	m.reg.MustRegister(
		m.cycles, m.cycleDuration, m.skippedTicks, m.changes,
		m.deliveries, m.pruned, m.targets, m.subscribers, m.lastChange,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveCycle(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) SkippedTick() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) Changed(at time.Time) {
	if m == nil {
		return
	}
	m.changes.Inc()
	m.lastChange.Set(float64(at.Unix()))
}

// Delivery counts n results for sink ("direct" or "channel").
func (m *Metrics) Delivery(sink, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(sink, result).Add(float64(n))
}

func (m *Metrics) Pruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.Add(float64(n))
}

func (m *Metrics) Target(result string) {
	if m == nil {
		return
	}
	m.targets.WithLabelValues(result).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// Handler serves the registry. Nil metrics serve 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs the /metrics endpoint until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, withPprof bool, log logx.Logger) error {
	mux := http.NewServeMux()
	if withPprof {
		mountPprof(mux)
	}
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", addr), logx.Bool("pprof", withPprof))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// mountPprof exposes the runtime profiles under /debug/pprof/.
func mountPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
}
