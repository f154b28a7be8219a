package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"probeselect/logging"
	"probeselect/models"
)

// DefaultTimeout is the per-probe timeout used when none is configured.
const DefaultTimeout = 5 * time.Second

// Outcome classifies how a probe ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeNetworkError   Outcome = "network_error"
	OutcomeInvalidRequest Outcome = "invalid_request"
)

// Result is the full record of one probe. Latency is models.Unreachable for
// every outcome other than OutcomeOK.
type Result struct {
	Endpoint   string
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	Latency    models.Latency
	Err        error
}

// Observer receives every probe result, e.g. to update metrics.
type Observer func(Result)

// Prober times single GET requests. It keeps no state between calls and is
// safe for concurrent use.
type Prober struct {
	client   *http.Client
	timeout  time.Duration
	log      *logging.Logger
	observer Observer
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient replaces the HTTP client. Its Timeout is overwritten with the
// prober's timeout.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithLogger sets the logger used for the per-probe log line.
func WithLogger(l *logging.Logger) Option {
	return func(p *Prober) { p.log = l }
}

// WithObserver registers a callback invoked after every probe.
func WithObserver(o Observer) Option {
	return func(p *Prober) { p.observer = o }
}

// New creates a Prober that gives each request timeout to complete.
func New(timeout time.Duration, opts ...Option) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prober{timeout: timeout}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{}
	} else {
		cp := *p.client
		p.client = &cp
	}
	p.client.Timeout = timeout
	if p.log == nil {
		p.log = logging.Discard()
	}
	return p
}

// Timeout returns the per-probe timeout.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Measure probes endpoint and returns its latency, or models.Unreachable if
// the probe failed for any reason.
func (p *Prober) Measure(ctx context.Context, endpoint string) models.Latency {
	return p.Do(ctx, endpoint).Latency
}

// Do runs one probe: a GET to endpoint, timed from just before the request is
// sent until the response body has been read. It never returns an error;
// failures are reported through Result.Outcome.
func (p *Prober) Do(ctx context.Context, endpoint string) Result {
	res := p.do(ctx, endpoint)

	if res.Outcome == OutcomeOK {
		p.log.Infof("%s completed successfully in %.4f seconds (status %d)", endpoint, res.Duration.Seconds(), res.StatusCode)
	} else {
		p.log.Warnf("%s unreachable after %.4f seconds: %s: %v", endpoint, res.Duration.Seconds(), res.Outcome, res.Err)
	}
	if p.observer != nil {
		p.observer(res)
	}
	return res
}

func (p *Prober) do(ctx context.Context, endpoint string) Result {
	res := Result{Endpoint: endpoint, Latency: models.Unreachable}

	if endpoint == "" {
		res.Outcome = OutcomeInvalidRequest
		res.Err = errors.New("empty endpoint")
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		res.Outcome = OutcomeInvalidRequest
		res.Err = err
		return res
	}

	p.log.Debugf("Sending request to %s", endpoint)
	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		res.Duration = time.Since(start)
		res.Outcome = classify(err)
		res.Err = err
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	// the body is part of the measured exchange
	_, err = io.Copy(io.Discard, resp.Body)
	res.Duration = time.Since(start)
	if err != nil {
		res.Outcome = classify(err)
		res.Err = fmt.Errorf("reading response body: %w", err)
		return res
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Outcome = OutcomeHTTPError
		res.Err = fmt.Errorf("unexpected status %s", resp.Status)
		return res
	}

	res.Outcome = OutcomeOK
	res.Latency = models.LatencyOf(res.Duration)
	return res
}

// classify maps a transport error onto an Outcome.
func classify(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeNetworkError
}
