package control

import "time"

// Controller is the shared state a download worker reports into.
type Controller interface {
	// Add adds delta bits on behalf of worker and returns the new total.
	Add(worker int, delta int64) int64
	// Get returns the current total in bits.
	Get() int64
}

// Clock supplies the time readings used for all elapsed-time decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads time.Now, which carries a monotonic component.
var SystemClock Clock = systemClock{}
