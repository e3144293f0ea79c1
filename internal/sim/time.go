package sim

import (
	"strconv"
	"time"
)

// Timestamp is a point in virtual time, in microseconds since engine start.
// Virtual time never decreases.
type Timestamp uint64

// Microseconds converts a duration to a virtual-time span, rounding to the
// nearest microsecond. Negative durations map to zero.
func Microseconds(d time.Duration) Timestamp {
	if d <= 0 {
		return 0
	}
	return Timestamp(d.Round(time.Microsecond) / time.Microsecond)
}

// Add returns t advanced by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Microseconds(d)
}

// Duration returns the span since virtual time zero.
func (t Timestamp) Duration() time.Duration {
	return time.Duration(t) * time.Microsecond
}

// Seconds returns t expressed in seconds.
func (t Timestamp) Seconds() float64 {
	return float64(t) / 1e6
}

func (t Timestamp) String() string {
	return strconv.FormatUint(uint64(t), 10) + "us"
}
