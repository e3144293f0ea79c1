// Package waveform reconstructs square-wave statistics from GPIO edge timestamps.
package waveform

import (
	"fmt"
	"math"

	"github.com/DirkWillem/HAL2/internal/sim"
)

// Edge is the direction of a pin transition.
type Edge int

const (
	Rising Edge = iota
	Falling
)

// EdgeFromCode converts the engine's raw edge code.
func EdgeFromCode(code int32) (Edge, bool) {
	switch code {
	case 0:
		return Rising, true
	case 1:
		return Falling, true
	}
	return 0, false
}

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// MarshalText encodes the edge as "rising" or "falling".
func (e Edge) MarshalText() ([]byte, error) {
	if e != Rising && e != Falling {
		return nil, fmt.Errorf("invalid edge %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText accepts "rising" or "falling".
func (e *Edge) UnmarshalText(b []byte) error {
	switch string(b) {
	case "rising":
		*e = Rising
	case "falling":
		*e = Falling
	default:
		return fmt.Errorf("invalid edge %q (want rising or falling)", string(b))
	}
	return nil
}

// Event is one timestamped edge.
type Event struct {
	At   sim.Timestamp `json:"at" yaml:"at"`
	Edge Edge          `json:"edge" yaml:"edge"`
}

// SquareWave summarizes the full periods found in an edge sequence.
// Periods are in seconds, frequencies in Hz, duty cycles in [0, 1].
type SquareWave struct {
	MeanFrequency float64 `json:"mean_frequency"`
	MeanPeriod    float64 `json:"mean_period"`
	MeanDutyCycle float64 `json:"mean_duty_cycle"`
	// FullPeriods counts the periods that entered the statistics.
	FullPeriods   int     `json:"full_periods"`
	MinPeriod     float64 `json:"min_period"`
	MaxPeriod     float64 `json:"max_period"`
	MinDutyCycle  float64 `json:"min_duty_cycle"`
	MaxDutyCycle  float64 `json:"max_duty_cycle"`
}

// Analyze computes square-wave statistics from edges.
//
// Edges are consumed in non-overlapping triples (t0, t1, t2) sharing their
// outer edges, giving floor((n-1)/2) periods. The middle edge decides which
// half is high: rising means t0..t1 was low, falling means it was high.
// Periods of zero length and out-of-order triples are not counted, so
// FullPeriods can be less than floor((n-1)/2). The second result is false
// when no period remains.
func Analyze(edges []Event) (SquareWave, bool) {
	var (
		sumPeriod, sumDuty float64
		n                  int
		w                  = SquareWave{MinPeriod: math.Inf(1), MinDutyCycle: math.Inf(1)}
	)

	for i := 0; i+2 < len(edges); i += 2 {
		t0, mid, t2 := edges[i].At, edges[i+1], edges[i+2].At
		if mid.At < t0 || t2 < mid.At {
			continue
		}
		first := float64(mid.At-t0) / 1e6
		second := float64(t2-mid.At) / 1e6

		low, high := first, second
		if mid.Edge == Falling {
			low, high = second, first
		}

		period := low + high
		if period <= 0 {
			continue
		}
		duty := high / period

		sumPeriod += period
		sumDuty += duty
		n++
		w.MinPeriod = math.Min(w.MinPeriod, period)
		w.MaxPeriod = math.Max(w.MaxPeriod, period)
		w.MinDutyCycle = math.Min(w.MinDutyCycle, duty)
		w.MaxDutyCycle = math.Max(w.MaxDutyCycle, duty)
	}

	if n == 0 {
		return SquareWave{}, false
	}

	w.FullPeriods = n
	w.MeanPeriod = sumPeriod / float64(n)
	w.MeanFrequency = 1 / w.MeanPeriod
	w.MeanDutyCycle = sumDuty / float64(n)
	return w, true
}
