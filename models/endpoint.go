package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// EndpointLatency is one probed slot of a selection request.
type EndpointLatency struct {
	Position int     `json:"position"`
	Endpoint string  `json:"endpoint"`
	Latency  Latency `json:"latency"`
}

// LatencyReport holds the probe results in input order, one entry per input
// position, duplicates included.
type LatencyReport []EndpointLatency

// Collapsed returns one entry per distinct endpoint, in order of first
// appearance, carrying the latency and position of its last occurrence.
func (r LatencyReport) Collapsed() LatencyReport {
	out := make(LatencyReport, 0, len(r))
	index := make(map[string]int, len(r))
	for _, e := range r {
		if i, seen := index[e.Endpoint]; seen {
			out[i] = e
			continue
		}
		index[e.Endpoint] = len(out)
		out = append(out, e)
	}
	return out
}

// Latencies collapses the report into endpoint -> latency. A URL given more
// than once keeps the value measured last.
func (r LatencyReport) Latencies() map[string]Latency {
	out := make(map[string]Latency, len(r))
	for _, e := range r {
		out[e.Endpoint] = e.Latency
	}
	return out
}

// MarshalJSON encodes the collapsed report as an object keyed by endpoint.
func (r LatencyReport) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.Collapsed() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := quote(e.Endpoint)
		if err != nil {
			return nil, err
		}
		val, err := e.Latency.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// quote encodes s as a JSON string without HTML escaping.
func quote(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SelectionResult is the outcome of one selection request. It is built once
// and not modified afterwards.
type SelectionResult struct {
	BestEndpoint string `json:"best_endpoint"`
	// BestPosition is the slot whose latency is reported for BestEndpoint,
	// the last occurrence when the endpoint was given more than once.
	BestPosition int           `json:"-"`
	Report       LatencyReport `json:"latencies"`
}

// AllUnreachable reports whether every probe in the result failed.
func (s SelectionResult) AllUnreachable() bool {
	for _, e := range s.Report {
		if !e.Latency.IsUnreachable() {
			return false
		}
	}
	return true
}

// BestLatency returns the latency measured for the selected slot.
func (s SelectionResult) BestLatency() Latency {
	if s.BestPosition < 0 || s.BestPosition >= len(s.Report) {
		return Unreachable
	}
	return s.Report[s.BestPosition].Latency
}

// SelectionRecord is a stored selection.
type SelectionRecord struct {
	ID             string            `json:"id"`
	CreatedAt      time.Time         `json:"created_at"`
	BestEndpoint   string            `json:"best_endpoint"`
	AllUnreachable bool              `json:"all_unreachable"`
	Probes         []EndpointLatency `json:"probes"`
}

// NewSelectionRecord builds the history row for a result.
func NewSelectionRecord(id string, at time.Time, res SelectionResult) SelectionRecord {
	probes := make([]EndpointLatency, len(res.Report))
	copy(probes, res.Report)
	return SelectionRecord{
		ID:             id,
		CreatedAt:      at.UTC(),
		BestEndpoint:   res.BestEndpoint,
		AllUnreachable: res.AllUnreachable(),
		Probes:         probes,
	}
}
