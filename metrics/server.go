package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StartCollectingMetrics begins listening and supplying metrics on
// localhost:`metricsPort`/metrics.
func StartCollectingMetrics(logger *zap.Logger, metricsPort int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%v", metricsPort), mux)
		logger.Warn("metrics server stopped", zap.Error(err))
	}()
}
