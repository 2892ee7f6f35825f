package internal

import (
	"fmt"
	"math"
)

// Welford keeps a running mean and variance over the last windowSize values.
// ref Welford, B. P. (1962). Note on a Method for Calculating Corrected Sums of Squares and Products. Technometrics, 4(3), 419–420. https://doi.org/10.1080/00401706.1962.10490022
type Welford struct {
	n          int       // data size
	mean       float64   // mean
	sum        float64   // sum of squared differences from the mean
	vector     []float64 // data set
	eraseIndex int       // the value will be erased next time
	cap        int
}

func NewWelford(windowSize int) *Welford {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Welford{
		vector: make([]float64, windowSize),
		cap:    windowSize,
	}
}

// Update enters value, evicting the oldest one once the window is full.
func (w *Welford) Update(value float64) {
	if w.n == w.cap {
		old := w.vector[w.eraseIndex]
		if w.n == 1 {
			w.mean, w.sum = 0, 0
			w.n = 0
		} else {
			delta := old - w.mean
			w.mean -= delta / float64(w.n-1)
			w.sum -= delta * (old - w.mean)
			w.n--
		}
		// the calc error is approximated to zero
		if w.sum < 0 {
			w.sum = 0
		}
		w.vector[w.eraseIndex] = value
		w.eraseIndex = (w.eraseIndex + 1) % w.cap
	} else {
		w.vector[w.n] = value
	}
	w.n++
	delta := value - w.mean
	w.mean += delta / float64(w.n)
	w.sum += delta * (value - w.mean)
}

func (w *Welford) Len() int {
	return w.n
}

func (w *Welford) Mean() float64 {
	return w.mean
}

// Variance is the sample variance, zero for fewer than two values.
func (w *Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.sum / float64(w.n-1)
}

func (w *Welford) StandardDeviation() float64 {
	return math.Sqrt(w.Variance())
}

func (w *Welford) String() string {
	return fmt.Sprintf("Mean: %.2f, Standard Deviation: %.2f", w.Mean(), w.StandardDeviation())
}
