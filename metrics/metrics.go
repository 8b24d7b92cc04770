package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector of the module. Callers may expose it
// through promhttp or gather it directly.
var Registry = prometheus.NewRegistry()

var Projections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mbir_projections_total",
		Help: "Number of single-view projections, by direction.",
	},
	[]string{"direction"},
)

var Iterations = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "mbir_recon_iterations_total",
		Help: "Number of completed VCD iterations.",
	},
)

var IterationDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "mbir_recon_iteration_duration_seconds",
		Help: "Wall time of one VCD iteration.",
		Buckets: []float64{
			0.01,
			0.05,
			0.1,
			0.5,
			1,
			5,
			10,
			30,
			60,
		},
	},
)

var FMRMSE = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "mbir_recon_fm_rmse",
		Help: "Weighted forward model RMSE after the last iteration.",
	},
)

var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mbir_cache_lookups_total",
		Help: "Operator cache lookups, by cache and result.",
	},
	[]string{"cache", "result"},
)

func init() {
	Registry.MustRegister(Projections, Iterations, IterationDuration, FMRMSE, CacheLookups)
}
