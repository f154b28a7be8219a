package models

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencySummary aggregates stored probe latencies for one endpoint.
type LatencySummary struct {
	Endpoint string    `json:"endpoint"`
	Since    time.Time `json:"since"`
	Samples  int       `json:"samples"`
	Failures int       `json:"failures"`
	Min      Latency   `json:"min"`
	Median   Latency   `json:"median"`
	P95      Latency   `json:"p95"`
	Max      Latency   `json:"max"`
}

// Summarize builds a summary from raw samples. Unreachable samples count as
// failures and are left out of the quantiles; with no reachable sample every
// statistic is Unreachable.
func Summarize(endpoint string, since time.Time, samples []Latency) LatencySummary {
	sum := LatencySummary{
		Endpoint: endpoint,
		Since:    since,
		Samples:  len(samples),
		Min:      Unreachable,
		Median:   Unreachable,
		P95:      Unreachable,
		Max:      Unreachable,
	}

	reachable := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.IsUnreachable() {
			sum.Failures++
			continue
		}
		reachable = append(reachable, s.Seconds())
	}
	if len(reachable) == 0 {
		return sum
	}

	// stat.Quantile needs sorted input
	sort.Float64s(reachable)
	sum.Min = Latency(reachable[0])
	sum.Max = Latency(reachable[len(reachable)-1])
	sum.Median = Latency(stat.Quantile(0.5, stat.Empirical, reachable, nil))
	sum.P95 = Latency(stat.Quantile(0.95, stat.Empirical, reachable, nil))
	return sum
}
