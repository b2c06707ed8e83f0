package cmd

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/oneconcern/castor/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	metricsOnce sync.Once
	collectors  *metrics.M
)

// cliMetrics returns the collectors to record to, or nil when no metrics endpoint is configured.
func cliMetrics() *metrics.M {
	return collectors
}

// startMetricsServer exposes prometheus metrics for the lifetime of the process.
func startMetricsServer() {
	if config == nil || config.Metrics.Addr == "" {
		return
	}
	metricsOnce.Do(func() {
		collectors = metrics.New(prometheus.DefaultRegisterer)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              config.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics endpoint stopped", zap.String("addr", config.Metrics.Addr), zap.Error(err))
			}
		}()
		logger.Debug("serving metrics", zap.String("addr", config.Metrics.Addr))
	})
}
