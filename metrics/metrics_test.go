package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probeselect/models"
	"probeselect/probe"
)

func TestInstrumentCountsEveryRequest(t *testing.T) {
	m := NewRegistry("probeselect")
	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("bad") != "" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := "/test-endpoints"
			if i%2 == 0 {
				url += "?bad=1"
			}
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, url, nil))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20.0, testutil.ToFloat64(m.requestCount))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestLatency))
}

func TestObserveProbeAndSelection(t *testing.T) {
	m := NewRegistry("probeselect")

	m.ObserveProbe(probe.Result{Outcome: probe.OutcomeOK, Duration: 20 * time.Millisecond})
	m.ObserveProbe(probe.Result{Outcome: probe.OutcomeTimeout})
	m.ObserveProbe(probe.Result{Outcome: probe.OutcomeTimeout})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probesTotal.WithLabelValues("timeout")))

	m.ObserveSelection(models.SelectionResult{Report: models.LatencyReport{{Latency: models.Unreachable}}})
	m.ObserveSelection(models.SelectionResult{Report: models.LatencyReport{{Latency: 0.1}}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectionsTotal.WithLabelValues("all_unreachable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectionsTotal.WithLabelValues("reachable")))

	m.RecordPruned(3)
	m.RecordPruned(0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.historyPruned))
}

func TestHandlerExposesTextFormat(t *testing.T) {
	m := NewRegistry("probeselect")
	m.RecordRequest(10 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "request_count 1")
	assert.Contains(t, string(body), "request_latency_seconds_count 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := NewRegistry("")
	b := NewRegistry("")
	a.RecordRequest(time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.requestCount))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.requestCount))
}
