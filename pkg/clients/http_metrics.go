package clients

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/nebula-sheets/pkg/metrics"
)

// InstrumentRoundTripper counts and times every request sent through next,
// labelled with the connector name, status code and method.
func InstrumentRoundTripper(next http.RoundTripper, connector string) http.RoundTripper {
	labels := prometheus.Labels{"connector": connector}
	counter := metrics.HTTPRequestsTotal.MustCurryWith(labels)
	duration := metrics.HTTPRequestDuration.MustCurryWith(labels)

	return promhttp.InstrumentRoundTripperCounter(counter,
		promhttp.InstrumentRoundTripperDuration(duration, next))
}
