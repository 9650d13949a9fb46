// Package intuistools provides helpers to instrument the Intuis API client.
package intuistools

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/clambin/intuis-monitor/internal/intuis"
	"github.com/prometheus/client_golang/prometheus"
)

// GetInstrumentedClient returns an Intuis API client that records request
// counts and durations in the provided metrics.
func GetInstrumentedClient(username, password string, metrics metrics.RequestMetrics, logger *slog.Logger) *intuis.Client {
	c := intuis.New(username, password, nil, logger)
	c.HTTPClient.Transport = getInstrumentedRoundTripper(c.HTTPClient.Transport, metrics)
	return c
}

func getInstrumentedRoundTripper(rt http.RoundTripper, metrics metrics.RequestMetrics) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return roundtripper.New(
		roundtripper.WithRequestMetrics(metrics),
		roundtripper.WithRoundTripper(rt),
	)
}

// NewCallMetrics creates RequestMetrics for Intuis API calls. The path label
// is collapsed to the api root so room & home ids don't blow up cardinality.
func NewCallMetrics(namespace, subsystem string, labels prometheus.Labels) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace:   namespace,
		Subsystem:   subsystem,
		ConstLabels: labels,
		LabelValues: func(request *http.Request, i int) (string, string, string) {
			path := request.URL.Path
			for _, prefix := range []string{"/api/", "/syncapi/", "/oauth2/"} {
				if strings.HasPrefix(path, prefix) {
					path = prefix
					break
				}
			}
			return request.Method, path, strconv.Itoa(i)
		},
	})
}
