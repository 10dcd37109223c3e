package realize

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_actions_total",
		Help: "Apply and delete actions performed, by action type and cluster",
	}, []string{"action", "cluster"})

	clusterErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciler_cluster_errors_total",
		Help: "Provider errors registered against clusters during realize",
	}, []string{"cluster"})
)

func init() {
	metrics.Registry.MustRegister(actionsTotal, clusterErrorsTotal)
}
