package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_jobs_started_total", Help: "Job processing passes started"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_jobs_completed_total", Help: "Jobs that reached completed"})
	ItemsSucceeded   = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_items_success_total", Help: "Targets published successfully"})
	ItemsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_items_failed_total", Help: "Targets that failed"})
	ItemsSkipped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_items_skipped_total", Help: "Targets skipped by precondition"})
	RemoteCalls      = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_remote_calls_total", Help: "Remote advertising API calls"})
	LabelFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "thema_ads_label_failures_total", Help: "Label assignments that failed"})
	AccountsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "thema_ads_accounts_inflight", Help: "Accounts currently being dispatched"})
	RunQueueDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "thema_ads_run_queue_depth", Help: "Jobs waiting in the run queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsCompleted,
			ItemsSucceeded,
			ItemsFailed,
			ItemsSkipped,
			RemoteCalls,
			LabelFailures,
			AccountsInFlight,
			RunQueueDepth,
		)
	})
	return promhttp.Handler()
}
