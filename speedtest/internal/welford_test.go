package internal

import (
	"math"
	"testing"
)

func TestWelford(t *testing.T) {
	w := NewWelford(3)
	if w.Variance() != 0 || w.Mean() != 0 {
		t.Fatalf("empty: %s", w)
	}

	for _, v := range []float64{2, 4, 6} {
		w.Update(v)
	}
	if w.Mean() != 4 || w.Variance() != 4 || w.StandardDeviation() != 2 {
		t.Errorf("got %s, variance %v", w, w.Variance())
	}

	// the window now holds 4, 6, 11
	w.Update(11)
	if w.Len() != 3 {
		t.Errorf("len = %d", w.Len())
	}
	if math.Abs(w.Mean()-7) > 1e-9 || math.Abs(w.Variance()-13) > 1e-9 {
		t.Errorf("after eviction: %s, variance %v", w, w.Variance())
	}
}

func TestWelfordSingleSlot(t *testing.T) {
	w := NewWelford(1)
	w.Update(3)
	w.Update(9)
	if w.Mean() != 9 || w.Variance() != 0 {
		t.Errorf("got %s", w)
	}
}
