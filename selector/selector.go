package selector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"probeselect/logging"
	"probeselect/models"
)

// RequiredEndpoints is the number of endpoints a selection compares.
const RequiredEndpoints = 3

// ErrInvalidInput is returned when a request does not carry exactly
// RequiredEndpoints endpoints.
var ErrInvalidInput = errors.New("invalid input: exactly 3 endpoints required")

// Prober measures one endpoint. Failures must be reported as
// models.Unreachable, never as an error.
type Prober interface {
	Measure(ctx context.Context, endpoint string) models.Latency
}

// Selector probes a fixed set of endpoints and picks the fastest.
type Selector struct {
	prober     Prober
	sequential bool
	log        *logging.Logger
	observer   func(models.SelectionResult)
}

// Option configures a Selector.
type Option func(*Selector)

// WithSequential probes endpoints one after another instead of in parallel.
func WithSequential() Option {
	return func(s *Selector) { s.sequential = true }
}

// WithLogger sets the selector's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Selector) { s.log = l }
}

// WithObserver registers a callback invoked with every completed selection.
func WithObserver(o func(models.SelectionResult)) Option {
	return func(s *Selector) { s.observer = o }
}

// New creates a Selector backed by prober.
func New(prober Prober, opts ...Option) *Selector {
	s := &Selector{prober: prober}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// Validate checks that endpoints can be selected from.
func Validate(endpoints []string) error {
	if len(endpoints) != RequiredEndpoints {
		return fmt.Errorf("%w (got %d)", ErrInvalidInput, len(endpoints))
	}
	return nil
}

// Select probes every endpoint and returns the one with the lowest latency.
// Duplicates are probed separately and each keeps its own slot in the report;
// the choice is made over the collapsed report, where a repeated endpoint
// counts with its last measurement.
// Once started, probes run to completion or to their own timeout even if ctx
// is cancelled.
func (s *Selector) Select(ctx context.Context, endpoints []string) (models.SelectionResult, error) {
	if err := Validate(endpoints); err != nil {
		return models.SelectionResult{}, err
	}

	report := s.measure(context.WithoutCancel(ctx), endpoints)
	// pick over the same view the response shows
	view := report.Collapsed()
	best := view[Best(view)]
	res := models.SelectionResult{
		BestEndpoint: best.Endpoint,
		BestPosition: best.Position,
		Report:       report,
	}

	if res.AllUnreachable() {
		s.log.Warnf("All endpoints unreachable, falling back to first: %s", res.BestEndpoint)
	} else {
		s.log.Infof("Best endpoint: %s (%s)", res.BestEndpoint, res.BestLatency())
	}
	if s.observer != nil {
		s.observer(res)
	}
	return res, nil
}

func (s *Selector) measure(ctx context.Context, endpoints []string) models.LatencyReport {
	report := make(models.LatencyReport, len(endpoints))
	for i, endpoint := range endpoints {
		report[i] = models.EndpointLatency{Position: i, Endpoint: endpoint, Latency: models.Unreachable}
	}

	if s.sequential {
		for i := range report {
			report[i].Latency = s.prober.Measure(ctx, report[i].Endpoint)
		}
		return report
	}

	// each goroutine owns one slot
	var wg sync.WaitGroup
	for i := range report {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report[i].Latency = s.prober.Measure(ctx, report[i].Endpoint)
		}(i)
	}
	wg.Wait()
	return report
}

// Best returns the index of the entry with the strictly smallest latency. On
// a tie, including all entries being unreachable, the earliest entry wins.
// It returns -1 for an empty report.
func Best(report models.LatencyReport) int {
	best := -1
	for i, e := range report {
		if best == -1 || e.Latency.Less(report[best].Latency) {
			best = i
		}
	}
	return best
}
