package control

import (
	"sync"
	"testing"
)

func TestCounterConcurrentAdd(t *testing.T) {
	c := NewCounter()
	calls := 0
	c.Reset(func(worker int, totalBits int64) {
		calls++
	})

	const workers = 8
	const adds = 1000
	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < adds; j++ {
				c.Add(id, 8)
			}
		}(i)
	}
	wg.Wait()

	if got := c.Get(); got != workers*adds*8 {
		t.Errorf("got: %d, want: %d", got, workers*adds*8)
	}
	if calls != workers*adds {
		t.Errorf("callback calls got: %d, want: %d", calls, workers*adds)
	}
}

func TestCounterReset(t *testing.T) {
	c := NewCounter()
	c.Add(0, 80)
	var seen int64
	c.Reset(func(worker int, totalBits int64) {
		seen = totalBits
	})
	if c.Get() != 0 {
		t.Errorf("counter not reset, got: %d", c.Get())
	}
	c.Add(1, 16)
	if seen != 16 {
		t.Errorf("callback saw %d, want 16", seen)
	}
}

func TestParseMode(t *testing.T) {
	testData := []struct {
		in   string
		want Mode
	}{
		{"concurrent", ModeConcurrent},
		{" Threads ", ModeConcurrent},
		{"sequential", ModeSequential},
		{"", ModeSequential},
	}
	for _, v := range testData {
		if got := ParseMode(v.in); got != v.want {
			t.Errorf("ParseMode(%q) got: %s, want: %s", v.in, got, v.want)
		}
	}
}
