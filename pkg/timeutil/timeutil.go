// Package timeutil implements time utilities.
package timeutil

import "time"

// TimeFrame records the start/end time frame of an operation.
type TimeFrame struct {
	// StartUTC is the time when the operation started.
	StartUTC time.Time `json:"start-utc" read-only:"true"`
	// EndUTC is the time when the operation completed.
	EndUTC time.Time `json:"end-utc" read-only:"true"`
	// Took is the duration the operation took.
	Took time.Duration `json:"took" read-only:"true"`
	// TookString is the duration the operation took, human readable.
	TookString string `json:"took-string" read-only:"true"`
}

// NewTimeFrame returns a new TimeFrame.
func NewTimeFrame(start time.Time, end time.Time) TimeFrame {
	took := end.Sub(start)
	return TimeFrame{
		StartUTC:   start.UTC(),
		EndUTC:     end.UTC(),
		Took:       took,
		TookString: took.String(),
	}
}
