// Package exporters serves the relay metrics over HTTP.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus metrics HTTP handler.
// It collects every promauto-registered metric.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
