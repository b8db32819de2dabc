package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	signalsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "signals_sent_total",
		Help:      "Signals queued for delivery, by route and signal.",
	}, []string{"route", "signal"})

	signalsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "signals_delivered_total",
		Help:      "Signals acted upon by a delivery goroutine, by signal and disposition.",
	}, []string{"signal", "disposition"})

	signalsRequeued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "signals_requeued_total",
		Help:      "Signals deferred back to the public table because they could not be delivered yet.",
	}, []string{"signal"})

	completionTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "completion_timeouts_total",
		Help:      "Synchronous sends that gave up waiting for the delivery goroutine.",
	})

	childrenLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigrt",
		Name:      "children_live",
		Help:      "Children currently tracked as running or stopped.",
	})

	zombies = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sigrt",
		Name:      "zombies",
		Help:      "Terminated children waiting to be reaped.",
	})

	zombiesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "zombies_dropped_total",
		Help:      "Zombies reaped without reporting their status.",
	})

	waitsInterrupted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sigrt",
		Name:      "waits_interrupted_total",
		Help:      "Blocked wait calls released by a caught signal.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sigrt",
		Name:      "build_info",
		Help:      "Build metadata for the running sigrt binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(
		signalsSent,
		signalsDelivered,
		signalsRequeued,
		completionTimeouts,
		childrenLive,
		zombies,
		zombiesDropped,
		waitsInterrupted,
		buildInfo,
	)
}

// Registry returns the Prometheus registry containing all sigrt metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SignalSent counts a signal queued on route.
func SignalSent(route, signal string) {
	signalsSent.WithLabelValues(route, signal).Inc()
}

// SignalDelivered counts a signal handled with the given disposition.
func SignalDelivered(signal, disposition string) {
	signalsDelivered.WithLabelValues(signal, disposition).Inc()
}

// SignalRequeued counts a deferred signal.
func SignalRequeued(signal string) {
	signalsRequeued.WithLabelValues(signal).Inc()
}

func CompletionTimeout() {
	completionTimeouts.Inc()
}

// AddChildren adjusts the live and zombie gauges by the given deltas.
func AddChildren(live, zombie int) {
	if live != 0 {
		childrenLive.Add(float64(live))
	}
	if zombie != 0 {
		zombies.Add(float64(zombie))
	}
}

func ZombieDropped() {
	zombiesDropped.Inc()
}

// WaitsInterrupted counts n wait calls released by a signal.
func WaitsInterrupted(n int) {
	if n <= 0 {
		return
	}
	waitsInterrupted.Add(float64(n))
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
