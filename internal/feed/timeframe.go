package feed

import (
	"strings"
	"time"
)

// Timeframe is a bar granularity label as understood by the trading terminal.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"

	// DefaultTimeframe is used for any label the terminal does not support.
	DefaultTimeframe = M15
)

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	W1:  7 * 24 * time.Hour,
}

// ParseTimeframe maps a label to a supported timeframe. Unsupported labels fall
// back to DefaultTimeframe rather than failing.
func ParseTimeframe(s string) Timeframe {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := timeframeDurations[tf]; ok {
		return tf
	}
	return DefaultTimeframe
}

// Duration returns the length of one bar.
func (tf Timeframe) Duration() time.Duration {
	if d, ok := timeframeDurations[tf]; ok {
		return d
	}
	return timeframeDurations[DefaultTimeframe]
}

func (tf Timeframe) String() string {
	return string(tf)
}
