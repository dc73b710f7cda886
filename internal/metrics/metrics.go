package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	backendReachable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "botshell",
		Name:      "backend_reachable",
		Help:      "Liveness of the supervised backend (1=reachable, 0=unreachable).",
	})

	backendSpawns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshell",
		Name:      "backend_spawns_total",
		Help:      "Backend spawn attempts by result.",
	}, []string{"result"})

	backendRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "botshell",
		Name:      "backend_restarts_total",
		Help:      "Restart commands by strategy and result.",
	}, []string{"strategy", "result"})

	probeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "botshell",
		Name:      "probe_latency_seconds",
		Help:      "Latency of backend reachability pings in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "botshell",
		Name:      "build_info",
		Help:      "Build metadata for the running botshell binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(backendReachable, backendSpawns, backendRestarts, probeLatency, buildInfo)
}

// Registry returns the Prometheus registry containing all botshell metrics.
func Registry() *prometheus.Registry {
	return registry
}

// SetBackendReachable records the latest liveness observation.
func SetBackendReachable(reachable bool) {
	value := 0.0
	if reachable {
		value = 1.0
	}
	backendReachable.Set(value)
}

// RecordSpawn counts a spawn attempt.
func RecordSpawn(err error) {
	backendSpawns.WithLabelValues(result(err)).Inc()
}

// RecordRestart counts a finished restart command.
func RecordRestart(strategy string, err error) {
	if strategy == "" {
		strategy = "unknown"
	}
	backendRestarts.WithLabelValues(strategy, result(err)).Inc()
}

// ObserveProbeLatency records the latency of a reachability ping.
func ObserveProbeLatency(d time.Duration) {
	probeLatency.Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// EmitBuildInfo sets botshell_build_info to 1 with the Go version and VCS
// stamp of the running binary. Later calls are no-ops.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		info, _ := debug.ReadBuildInfo()
		buildInfo.With(buildLabels(info)).Set(1)
	})
}

// vcsLabels maps debug.BuildSetting keys to label names.
var vcsLabels = map[string]string{
	"vcs":          "vcs",
	"vcs.revision": "vcs_revision",
	"vcs.time":     "vcs_time",
	"vcs.modified": "vcs_modified",
}

func buildLabels(info *debug.BuildInfo) prometheus.Labels {
	labels := prometheus.Labels{"go_version": runtime.Version()}
	for _, name := range vcsLabels {
		labels[name] = ""
	}
	if info == nil {
		return labels
	}
	if info.GoVersion != "" {
		labels["go_version"] = info.GoVersion
	}
	for _, setting := range info.Settings {
		if name, ok := vcsLabels[setting.Key]; ok {
			labels[name] = setting.Value
		}
	}
	return labels
}
