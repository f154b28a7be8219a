package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Latency is a measured round trip in seconds. A failed probe is recorded as
// Unreachable so that every measurement can take part in the same ordering.
type Latency float64

// Unreachable is the latency reported for any probe that did not produce a 2xx
// response within the timeout.
var Unreachable = Latency(math.Inf(1))

// infinityToken is how Unreachable travels over JSON, which has no literal for
// infinity.
const infinityToken = "Infinity"

// LatencyOf converts a successful probe duration into a Latency.
func LatencyOf(d time.Duration) Latency {
	if d < 0 {
		d = 0
	}
	return Latency(d.Seconds())
}

// IsUnreachable reports whether l is the failure sentinel.
func (l Latency) IsUnreachable() bool {
	return math.IsInf(float64(l), 1)
}

// Less orders latencies; Unreachable is never less than anything.
func (l Latency) Less(other Latency) bool {
	return l < other
}

// Seconds returns the latency as a plain float64 (+Inf when unreachable).
func (l Latency) Seconds() float64 {
	return float64(l)
}

func (l Latency) String() string {
	if l.IsUnreachable() {
		return "unreachable"
	}
	return fmt.Sprintf("%.4fs", float64(l))
}

// MarshalJSON writes finite values as numbers and the sentinel as the JSON
// string "Infinity". JSON has no infinity literal, so clients that expect a
// number must map that string to +Inf themselves; UnmarshalJSON does so.
func (l Latency) MarshalJSON() ([]byte, error) {
	if l.IsUnreachable() {
		return []byte(`"` + infinityToken + `"`), nil
	}
	f := float64(l)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, fmt.Errorf("invalid latency value %v", f)
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON accepts numbers, the "Infinity" token (and "inf"), and null.
func (l *Latency) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*l = Unreachable
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var token string
		if err := json.Unmarshal(data, &token); err != nil {
			return err
		}
		switch strings.ToLower(token) {
		case "infinity", "inf", "+inf":
			*l = Unreachable
			return nil
		}
		return fmt.Errorf("invalid latency token %q", token)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid latency %q: %w", s, err)
	}
	if math.IsNaN(f) || f < 0 {
		return fmt.Errorf("invalid latency %v", f)
	}
	*l = Latency(f)
	return nil
}
