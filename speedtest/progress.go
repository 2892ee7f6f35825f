package speedtest

import (
	"fmt"
	"time"
)

// DefaultReportEvery is the number of updates between two progress reports.
const DefaultReportEvery = 1000

// Progress is one live throughput sample.
type Progress struct {
	Worker    int
	TotalBits int64
	// TotalRate is the average since the pass started, Rate the rate since
	// the previous report.
	TotalRate BitRate
	Rate      BitRate
	Time      time.Time
	Unit      UnitType
}

func (p Progress) String() string {
	return fmt.Sprintf("%s (avg %s)", p.Rate.Format(p.Unit), p.TotalRate.Format(p.Unit))
}

// Reporter turns per-chunk counter updates into throttled progress samples.
// It is not safe for concurrent use; control.Counter serializes its calls.
type Reporter struct {
	every int
	unit  UnitType
	sink  func(Progress)

	reset    bool
	calls    int
	lastTime time.Time
	lastBits int64
}

// NewReporter reports through sink once every `every` updates, starting with
// the first one. every <= 0 selects DefaultReportEvery.
func NewReporter(every int, unit UnitType, sink func(Progress)) *Reporter {
	if every <= 0 {
		every = DefaultReportEvery
	}
	return &Reporter{every: every, unit: unit, sink: sink, reset: true}
}

// Reset makes the next update start a new pass.
func (r *Reporter) Reset() {
	r.reset = true
}

// Update records that worker brought the pass total to totalBits at now.
func (r *Reporter) Update(worker int, totalBits int64, start, now time.Time) {
	if r.reset {
		r.reset = false
		r.calls = 0
		r.lastTime = start
		r.lastBits = 0
	}
	r.calls++
	if (r.calls-1)%r.every != 0 {
		return
	}

	elapsed := now.Sub(start)
	if elapsed <= 0 {
		return
	}
	total := rate(totalBits, elapsed)
	current := total
	if dt := now.Sub(r.lastTime); dt > 0 {
		current = clampRate(rate(totalBits-r.lastBits, dt), total)
	}
	r.lastTime = now
	r.lastBits = totalBits

	if r.sink != nil {
		r.sink(Progress{
			Worker:    worker,
			TotalBits: totalBits,
			TotalRate: total,
			Rate:      current,
			Time:      now,
			Unit:      r.unit,
		})
	}
}

func rate(bits int64, d time.Duration) BitRate {
	return BitRate(float64(bits) / d.Seconds())
}

// clampRate replaces a sample that is more than twice or less than half the
// running average with the average.
func clampRate(sample, average BitRate) BitRate {
	if sample > 2*average || sample < average/2 {
		return average
	}
	return sample
}
