// Package observability exposes Prometheus metrics for the sync pipeline
package observability

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

//nolint:gochecknoglobals // One scrape endpoint per process
var (
	metricsServer *http.Server
	metricsOnce   sync.Once
)

// StartMetricsServer serves the Prometheus scrape endpoint on addr. Safe to
// call more than once; only the first call starts the server.
func StartMetricsServer(addr string) {
	metricsOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 15 * time.Second,
			Handler:           mux,
		}

		go func() {
			logrus.WithField("addr", addr).Info("Serving sync metrics")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Fatal("Metrics server failed")
			}
		}()
	})
}
