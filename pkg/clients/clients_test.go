package clients

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/nebula-sheets/pkg/metrics"
)

func TestWithUserAgent(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewTransport(DefaultHTTPConfig(), zaptest.NewLogger(t))
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: WithUserAgent(tr, "sheets-test/1")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller/2")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"sheets-test/1", "caller/2"}, got)
	assert.Same(t, tr, WithUserAgent(tr, ""))
}

func TestNewTransportHTTP2(t *testing.T) {
	tr := NewTransport(DefaultHTTPConfig(), zaptest.NewLogger(t))
	assert.Contains(t, tr.TLSNextProto, "h2")

	cfg := DefaultHTTPConfig()
	cfg.EnableHTTP2 = false
	tr = NewTransport(cfg, zaptest.NewLogger(t))
	assert.NotContains(t, tr.TLSNextProto, "h2")
}

func TestInstrumentRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: InstrumentRoundTripper(http.DefaultTransport, "instrumented")}
	for _, path := range []string{"/", "/", "/missing"} {
		resp, err := client.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("instrumented", "200", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("instrumented", "404", "get")))
}
