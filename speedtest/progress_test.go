package speedtest

import (
	"testing"
	"time"
)

func TestClampRate(t *testing.T) {
	cases := []struct {
		sample, average, want BitRate
	}{
		{100, 100, 100},
		{199, 100, 199},
		{200, 100, 200},
		{201, 100, 100},
		{50, 100, 50},
		{49, 100, 100},
		{0, 100, 100},
		{1e9, 100, 100},
	}
	for _, c := range cases {
		if got := clampRate(c.sample, c.average); got != c.want {
			t.Errorf("clampRate(%v, %v) = %v, want %v", c.sample, c.average, got, c.want)
		}
	}
}

func TestReporterThrottles(t *testing.T) {
	var got []Progress
	r := NewReporter(3, UnitTypeDecimalBits, func(p Progress) { got = append(got, p) })

	start := time.Unix(0, 0)
	for i := 1; i <= 7; i++ {
		r.Update(i, int64(i)*1000, start, start.Add(time.Duration(i)*time.Second))
	}

	// calls 1, 4 and 7 report
	if len(got) != 3 {
		t.Fatalf("%d reports, want 3", len(got))
	}
	for i, worker := range []int{1, 4, 7} {
		if got[i].Worker != worker || got[i].TotalBits != int64(worker)*1000 {
			t.Errorf("report %d = %+v", i, got[i])
		}
		if got[i].TotalRate != 1000 || got[i].Rate != 1000 {
			t.Errorf("report %d rates = %v / %v, want 1000", i, got[i].TotalRate, got[i].Rate)
		}
	}
}

func TestReporterClampsOutliers(t *testing.T) {
	var got []Progress
	r := NewReporter(1, UnitTypeDecimalBits, func(p Progress) { got = append(got, p) })
	start := time.Unix(0, 0)

	r.Update(0, 10000, start, start.Add(10*time.Second))
	// 90000 bits in 1s against an average of 9090.9 bps
	r.Update(0, 100000, start, start.Add(11*time.Second))
	// 5000 bits in 1s against an average of 8750 bps
	r.Update(0, 105000, start, start.Add(12*time.Second))

	if len(got) != 3 {
		t.Fatalf("%d reports", len(got))
	}
	if got[1].Rate != got[1].TotalRate {
		t.Errorf("burst not clamped: %v vs %v", got[1].Rate, got[1].TotalRate)
	}
	if got[2].Rate != 5000 {
		t.Errorf("in-range sample = %v, want 5000", got[2].Rate)
	}

	r.Update(0, 106000, start, start.Add(13*time.Second))
	if got[3].Rate != got[3].TotalRate {
		t.Errorf("slow sample not clamped: %v vs %v", got[3].Rate, got[3].TotalRate)
	}
}

func TestReporterReset(t *testing.T) {
	var got []Progress
	r := NewReporter(2, UnitTypeDecimalBits, func(p Progress) { got = append(got, p) })
	start := time.Unix(0, 0)

	r.Update(0, 100, start, start.Add(time.Second))
	r.Update(0, 200, start, start.Add(2*time.Second))

	second := start.Add(time.Hour)
	r.Reset()
	r.Update(1, 300, second, second.Add(time.Second))

	if len(got) != 2 {
		t.Fatalf("%d reports, want 2", len(got))
	}
	if got[1].Worker != 1 || got[1].TotalRate != 300 || got[1].Rate != 300 {
		t.Errorf("first report after reset = %+v", got[1])
	}
}

func TestReporterSkipsZeroElapsed(t *testing.T) {
	calls := 0
	r := NewReporter(1, UnitTypeDecimalBits, func(Progress) { calls++ })
	start := time.Unix(0, 0)
	r.Update(0, 80, start, start)
	if calls != 0 {
		t.Errorf("reported with zero elapsed time")
	}
}
