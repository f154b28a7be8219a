package selector

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probeselect/models"
	"probeselect/probe"
)

// fakeProber returns canned latencies; endpoints it does not know are
// unreachable. When sequence is set, the n-th call returns sequence[n].
type fakeProber struct {
	mu        sync.Mutex
	latencies map[string]models.Latency
	sequence  []models.Latency
	calls     []string
	delay     time.Duration
}

func (f *fakeProber) Measure(ctx context.Context, endpoint string) models.Latency {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpoint)
	if n := len(f.calls) - 1; n < len(f.sequence) {
		return f.sequence[n]
	}
	if l, ok := f.latencies[endpoint]; ok {
		return l
	}
	return models.Unreachable
}

func TestSelectInvalidInput(t *testing.T) {
	s := New(&fakeProber{})
	inputs := [][]string{
		nil,
		{},
		{"http://a"},
		{"http://a", "http://b"},
		{"http://a", "http://b", "http://c", "http://d"},
	}
	for _, in := range inputs {
		_, err := s.Select(context.Background(), in)
		assert.True(t, errors.Is(err, ErrInvalidInput), "len=%d", len(in))
	}
}

func TestSelectReportKeepsInputOrder(t *testing.T) {
	f := &fakeProber{latencies: map[string]models.Latency{
		"http://a": 0.3, "http://b": 0.2, "http://c": 0.1,
	}}
	res, err := New(f).Select(context.Background(), []string{"http://a", "http://b", "http://c"})
	require.NoError(t, err)

	require.Len(t, res.Report, 3)
	for i, want := range []string{"http://a", "http://b", "http://c"} {
		assert.Equal(t, i, res.Report[i].Position)
		assert.Equal(t, want, res.Report[i].Endpoint)
	}
	assert.Equal(t, "http://c", res.BestEndpoint)
	assert.Equal(t, 2, res.BestPosition)
	assert.Len(t, f.calls, 3)
}

func TestSelectSingleReachableWinsAnywhere(t *testing.T) {
	for pos := 0; pos < 3; pos++ {
		endpoints := []string{"http://x", "http://y", "http://z"}
		f := &fakeProber{latencies: map[string]models.Latency{endpoints[pos]: 4.9}}

		res, err := New(f).Select(context.Background(), endpoints)
		require.NoError(t, err)
		assert.Equal(t, endpoints[pos], res.BestEndpoint, "position %d", pos)
		assert.False(t, res.AllUnreachable())
	}
}

func TestSelectAllUnreachablePicksFirst(t *testing.T) {
	res, err := New(&fakeProber{}).Select(context.Background(), []string{"http://a", "http://b", "http://c"})
	require.NoError(t, err)

	assert.Equal(t, "http://a", res.BestEndpoint)
	assert.True(t, res.AllUnreachable())
	assert.True(t, res.BestLatency().IsUnreachable())
}

func TestSelectTieBreakIsDeterministic(t *testing.T) {
	f := &fakeProber{latencies: map[string]models.Latency{
		"http://a": 0.5, "http://b": 0.1, "http://c": 0.1,
	}}
	s := New(f)
	for i := 0; i < 50; i++ {
		res, err := s.Select(context.Background(), []string{"http://a", "http://b", "http://c"})
		require.NoError(t, err)
		require.Equal(t, "http://b", res.BestEndpoint)
	}

	res, err := s.Select(context.Background(), []string{"http://a", "http://c", "http://b"})
	require.NoError(t, err)
	assert.Equal(t, "http://c", res.BestEndpoint)
}

func TestSelectDuplicatesProbedSeparately(t *testing.T) {
	f := &fakeProber{latencies: map[string]models.Latency{"http://a": 0.2, "http://b": 0.1}}

	res, err := New(f).Select(context.Background(), []string{"http://a", "http://b", "http://a"})
	require.NoError(t, err)

	assert.Len(t, f.calls, 3)
	assert.Len(t, res.Report, 3)
	assert.Len(t, res.Report.Latencies(), 2)
	assert.Equal(t, "http://b", res.BestEndpoint)
}

func TestSelectDuplicateUsesLastMeasurement(t *testing.T) {
	cases := []struct {
		name     string
		sequence []models.Latency
		best     string
		position int
	}{
		{"LaterOccurrenceUnreachable", []models.Latency{0.01, 0.02, models.Unreachable}, "http://b", 1},
		{"LaterOccurrenceFaster", []models.Latency{0.05, 0.02, 0.01}, "http://a", 2},
		{"TieKeepsFirstAppearance", []models.Latency{0.01, 0.02, 0.02}, "http://a", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeProber{sequence: tc.sequence}
			res, err := New(f, WithSequential()).Select(context.Background(), []string{"http://a", "http://b", "http://a"})
			require.NoError(t, err)

			assert.Equal(t, tc.best, res.BestEndpoint)
			assert.Equal(t, tc.position, res.BestPosition)
			assert.Equal(t, res.Report.Latencies()[res.BestEndpoint], res.BestLatency())
			assert.Len(t, res.Report, 3)
		})
	}
}

func TestSelectRunsProbesConcurrently(t *testing.T) {
	f := &fakeProber{delay: 200 * time.Millisecond}
	endpoints := []string{"http://a", "http://b", "http://c"}

	start := time.Now()
	_, err := New(f).Select(context.Background(), endpoints)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	f = &fakeProber{delay: 100 * time.Millisecond}
	start = time.Now()
	_, err = New(f, WithSequential()).Select(context.Background(), endpoints)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, endpoints, f.calls)
}

func TestSelectIgnoresCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(probe.New(time.Second)).Select(ctx, []string{srv.URL, srv.URL + "/b", srv.URL + "/c"})
	require.NoError(t, err)
	assert.False(t, res.AllUnreachable())
}

func TestSelectObserver(t *testing.T) {
	var got []models.SelectionResult
	s := New(&fakeProber{}, WithObserver(func(r models.SelectionResult) { got = append(got, r) }))

	_, err := s.Select(context.Background(), []string{"http://a"})
	require.Error(t, err)
	_, err = s.Select(context.Background(), []string{"http://a", "http://b", "http://c"})
	require.NoError(t, err)

	assert.Len(t, got, 1)
}

func TestBest(t *testing.T) {
	assert.Equal(t, -1, Best(nil))
	assert.Equal(t, 0, Best(models.LatencyReport{
		{Endpoint: "a", Latency: models.Unreachable},
		{Endpoint: "b", Latency: models.Unreachable},
	}))
	assert.Equal(t, 1, Best(models.LatencyReport{
		{Endpoint: "a", Latency: models.Unreachable},
		{Endpoint: "b", Latency: 0},
		{Endpoint: "c", Latency: 0},
	}))
}

// Scenario: A answers in ~50ms, B in ~10ms, C refuses connections.
func TestScenarioFastestReachable(t *testing.T) {
	a := delayed(t, http.StatusOK, 50*time.Millisecond)
	b := delayed(t, http.StatusOK, 10*time.Millisecond)
	c := refused(t)

	res, err := New(probe.New(time.Second)).Select(context.Background(), []string{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, b, res.BestEndpoint)
	lat := res.Report.Latencies()
	assert.InDelta(t, 0.05, lat[a].Seconds(), 0.2)
	assert.InDelta(t, 0.01, lat[b].Seconds(), 0.2)
	assert.True(t, lat[c].IsUnreachable())
}

// Scenario: A fails fast with 500, B answers in ~20ms, C never answers.
func TestScenarioFastErrorDoesNotWin(t *testing.T) {
	a := delayed(t, http.StatusInternalServerError, 0)
	b := delayed(t, http.StatusOK, 20*time.Millisecond)
	c := hanging(t)

	start := time.Now()
	res, err := New(probe.New(300*time.Millisecond)).Select(context.Background(), []string{a, b, c})
	require.NoError(t, err)

	assert.Equal(t, b, res.BestEndpoint)
	assert.True(t, res.Report[0].Latency.IsUnreachable())
	assert.True(t, res.Report[2].Latency.IsUnreachable())
	assert.Less(t, time.Since(start), 800*time.Millisecond)
}

func delayed(t *testing.T, status int, delay time.Duration) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func hanging(t *testing.T) string {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv.URL
}

func refused(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}
