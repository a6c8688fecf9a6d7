package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

func TestRecorder_Observe(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	rec.Observe(redirect.Redirected)
	rec.Observe(redirect.Redirected)
	rec.Observe(redirect.PassThrough)
	rec.BlindTunnel()

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.decisions.WithLabelValues("redirected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.decisions.WithLabelValues("pass_through")))
	assert.Equal(t, 0.0, testutil.ToFloat64(rec.decisions.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.tunnels))
}

func TestServer_Routes(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)
	rec.Observe(redirect.Skipped)

	ts := httptest.NewServer(NewServer(":0", rec, zap.NewNop()).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `yeet_decisions_total{outcome="skipped"} 1`)
	assert.Contains(t, string(body), `yeet_decisions_total{outcome="redirected"} 0`)
}
