package mirror

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// lastSyncTimestamp is a Gauge that captures the timestamp of the last
	// successful repository sync
	lastSyncTimestamp *prometheus.GaugeVec
	// syncCount is a Counter vector of repository syncs
	syncCount *prometheus.CounterVec
	// syncLatency is a Histogram vector that keeps track of repo sync durations
	syncLatency *prometheus.HistogramVec
)

// EnableMetrics will enable metrics collection for repository syncs.
// Available metrics are...
//   - git_last_sync_timestamp - (tags: repo)
//     A Gauge that captures the Timestamp of the last successful sync per repo.
//   - git_sync_count - (tags: repo,action,success)
//     A Counter for each sync attempt, tagged with the action taken
//     (cloned|updated) and the result (success=true|false)
//   - git_sync_latency_seconds - (tags: repo)
//     A Histogram that keeps track of the sync latency per repo.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	lastSyncTimestamp = promauto.With(registerer).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "git_last_sync_timestamp",
		Help:      "Timestamp of the last successful repository sync",
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	syncCount = promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "git_sync_count",
		Help:      "Count of repository sync operations",
	},
		[]string{
			// name of the repository
			"repo",
			// whether the mirror was cloned or updated
			"action",
			// Whether the sync was successful or not
			"success",
		},
	)

	syncLatency = promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "git_sync_latency_seconds",
		Help:      "Latency for repository sync",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	},
		[]string{
			// name of the repository
			"repo",
		},
	)
}

// recordGitSync records a repository sync attempt by updating all the
// relevant metrics
func recordGitSync(repo, action string, success bool) {
	// if metrics not enabled return
	if lastSyncTimestamp == nil || syncCount == nil {
		return
	}
	if success {
		lastSyncTimestamp.With(prometheus.Labels{
			"repo": repo,
		}).Set(float64(time.Now().Unix()))
	}
	syncCount.With(prometheus.Labels{
		"repo":    repo,
		"action":  action,
		"success": strconv.FormatBool(success),
	}).Inc()
}

func updateSyncLatency(repo string, start time.Time) {
	// if metrics not enabled return
	if syncLatency == nil {
		return
	}
	syncLatency.WithLabelValues(repo).Observe(time.Since(start).Seconds())
}
