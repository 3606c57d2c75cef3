package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the scan counters exported on /metrics.
type Metrics struct {
	scans          *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	rejected       prometheus.Counter
	abnormal       *prometheus.GaugeVec
	clusterPods    *prometheus.GaugeVec
	clusterErrors  *prometheus.CounterVec
	engineFallback prometheus.Counter
	historyErrors  prometheus.Counter
}

// NewMetrics creates the scan metrics and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podspectre_scans_total",
			Help: "Scans run, by outcome",
		}, []string{"status"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podspectre_scan_duration_seconds",
			Help:    "Wall time of a full scan",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podspectre_scans_rejected_total",
			Help: "Scan requests rejected because a scan was already running",
		}),
		abnormal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "podspectre_abnormal_pods",
			Help: "Abnormal pods in the latest result, by reconciliation category",
		}, []string{"category"}),
		clusterPods: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "podspectre_cluster_pods",
			Help: "Pods listed per cluster in the latest scan",
		}, []string{"cluster"}),
		clusterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podspectre_cluster_errors_total",
			Help: "Clusters that could not be listed during a scan",
		}, []string{"cluster"}),
		engineFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podspectre_engine_fallbacks_total",
			Help: "Reconciliations answered by the fallback engine",
		}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podspectre_history_errors_total",
			Help: "Scans that could not be mirrored to the history sink",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.scans,
			m.scanDuration,
			m.rejected,
			m.abnormal,
			m.clusterPods,
			m.clusterErrors,
			m.engineFallback,
			m.historyErrors,
		)
	}
	return m
}

// EngineFallback counts one fallback; pass it to reconcile.OnFallback.
func (m *Metrics) EngineFallback(error) {
	m.engineFallback.Inc()
}
