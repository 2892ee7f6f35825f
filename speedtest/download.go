package speedtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/osmc/speedtest-osmc/speedtest/control"
	"github.com/osmc/speedtest-osmc/speedtest/transport"
)

var (
	ErrEmptyMeasurement = errors.New("no data was transferred")
	ErrInvalidDuration  = errors.New("measurement elapsed time is not positive")
)

const (
	// uploadThreadsThreshold is the sequential bitrate above which later
	// upload passes should use uploadThreadsHint workers.
	uploadThreadsThreshold = 100000
	uploadThreadsHint      = 8
)

// SpeedResult is the outcome of one throughput pass.
type SpeedResult struct {
	Bytes   int64         `json:"bytes"`
	Elapsed time.Duration `json:"elapsed"`
	Bitrate float64       `json:"bitrate"`
}

// NewSpeedResult computes the bitrate of bytes moved in elapsed. A
// non-positive elapsed time is rejected rather than turned into an
// infinite or negative rate.
func NewSpeedResult(bytes int64, elapsed time.Duration) (SpeedResult, error) {
	if elapsed <= 0 {
		return SpeedResult{}, fmt.Errorf("%w: %v", ErrInvalidDuration, elapsed)
	}
	return SpeedResult{
		Bytes:   bytes,
		Elapsed: elapsed,
		Bitrate: float64(bytes) * 8 / elapsed.Seconds(),
	}, nil
}

func (r SpeedResult) Seconds() float64 {
	return r.Elapsed.Seconds()
}

func (r SpeedResult) Rate() BitRate {
	return BitRate(r.Bitrate)
}

// SequentialResult is a sequential download pass. UploadThreads is non-zero
// when the measured rate suggests a different upload worker count; the
// configuration itself is left untouched.
type SequentialResult struct {
	SpeedResult
	UploadThreads int `json:"upload_threads,omitempty"`
}

// Meter measures download throughput against one server.
type Meter struct {
	doer    *http.Client
	clock   Clock
	counter *control.Counter
	passMu  sync.Mutex
}

func NewMeter(doer *http.Client, clock Clock) *Meter {
	return &Meter{doer: doer, clock: clock, counter: control.NewCounter()}
}

// DownloadSequential fetches one payload per configured download size, in
// order, and times only the body reads. Failed fetches are skipped.
func (m *Meter) DownloadSequential(ctx context.Context, target *Server, cfg *TestConfig) (*SequentialResult, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	var (
		total   int64
		elapsed time.Duration
	)
	for i, size := range cfg.Sizes.Download {
		n, d, err := m.fetch(ctx, payloadURL(target.URL, size), strconv.Itoa(i))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			dbg.Printf("Skip payload %d: %v\n", size, err)
			continue
		}
		total += n
		elapsed += d
	}
	if total == 0 {
		return nil, ErrEmptyMeasurement
	}

	speed, err := NewSpeedResult(total, elapsed)
	if err != nil {
		return nil, err
	}
	result := &SequentialResult{SpeedResult: speed}
	if speed.Bitrate > uploadThreadsThreshold {
		result.UploadThreads = uploadThreadsHint
	}
	return result, nil
}

func (m *Meter) fetch(ctx context.Context, url, bump string) (int64, time.Duration, error) {
	req, err := newRequest(ctx, http.MethodGet, url, bump)
	if err != nil {
		return 0, 0, err
	}

	resp, err := m.doer.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}

	bufP := control.BlackHole.Get().(*[]byte)
	defer control.BlackHole.Put(bufP)

	start := m.clock.Now()
	n, err := io.CopyBuffer(io.Discard, resp.Body, *bufP)
	elapsed := m.clock.Now().Sub(start)
	if err != nil {
		return 0, 0, err
	}
	return n, elapsed, nil
}

// DownloadConcurrent runs cfg.Threads.Download workers against the minimal
// payload of target until their streams end, ctx is done, or
// cfg.Length.Download has passed. A canceled pass still returns what was
// measured so far. reporter may be nil.
func (m *Meter) DownloadConcurrent(ctx context.Context, target *Server, cfg *TestConfig, reporter *Reporter) (SpeedResult, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	start := m.clock.Now()
	var hook control.Callback
	if reporter != nil {
		reporter.Reset()
		hook = func(worker int, totalBits int64) {
			reporter.Update(worker, totalBits, start, m.clock.Now())
		}
	}
	m.counter.Reset(hook)

	url := payloadURL(target.URL, minimalPayloadSize)
	var wg sync.WaitGroup
	for worker := 0; worker < cfg.Threads.Download; worker++ {
		worker := worker
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.download(ctx, worker, url, start, cfg.Length.Download)
		}()
	}
	wg.Wait()

	elapsed := m.clock.Now().Sub(start)
	bits := m.counter.Get()
	if bits == 0 {
		return SpeedResult{}, ErrEmptyMeasurement
	}
	return NewSpeedResult(bits/8, elapsed)
}

// download is one concurrent worker. Its failures end only this worker.
func (m *Meter) download(ctx context.Context, worker int, url string, start time.Time, limit time.Duration) {
	chunk := transport.NewChunk(worker, m.counter, m.clock, start, limit)
	if chunk.Expired() {
		return
	}

	req, err := newRequest(ctx, http.MethodGet, url, strconv.Itoa(worker))
	if err != nil {
		dbg.Printf("Worker %d: %v\n", worker, err)
		return
	}

	resp, err := m.doer.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			dbg.Printf("Worker %d: %v\n", worker, err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		dbg.Printf("Worker %d: unexpected status %s\n", worker, resp.Status)
		return
	}

	if err = chunk.DownloadHandler(ctx, resp.Body); err != nil {
		dbg.Printf("Worker %d stopped after %d bytes: %v\n", worker, chunk.Len(), err)
		return
	}
	dbg.Printf("Worker %d received %d bytes in %v\n", worker, chunk.Len(), chunk.Duration())
}
