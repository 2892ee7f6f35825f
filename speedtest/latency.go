package speedtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/osmc/speedtest-osmc/speedtest/internal"
)

const (
	probeAttempts = 3
	probePenalty  = 3600 * time.Second
	// scoreDivisor halves the mean of the probe attempts. Rankings only
	// compare scores with each other, so the scale is kept as is.
	scoreDivisor = 6
)

var probeBody = []byte("test=test")

var ErrNoReachableServer = errors.New("no reachable server")

// ProbeOutcome is the result of one latency probe.
type ProbeOutcome struct {
	Elapsed time.Duration
	Err     error
}

// Value is the time the probe contributes to a score: the measured elapsed
// time on success, the fixed penalty otherwise.
func (o ProbeOutcome) Value() time.Duration {
	if o.Err != nil {
		return probePenalty
	}
	return o.Elapsed
}

// LatencyScore returns the score in milliseconds for a candidate's probes.
func LatencyScore(outcomes []ProbeOutcome) float64 {
	var sum time.Duration
	for _, o := range outcomes {
		sum += o.Value()
	}
	return float64(sum) / float64(time.Millisecond) / scoreDivisor
}

// ProbeFunc observes every finished probe. It is called from several
// goroutines when candidates are probed concurrently.
type ProbeFunc func(server *Server, attempt int, outcome ProbeOutcome)

// Prober measures server latency with small HTTP requests.
type Prober struct {
	doer  *http.Client
	clock Clock

	// Concurrency is the number of candidates probed at once. Probes of a
	// single candidate are always sequential.
	Concurrency int
	OnProbe     ProbeFunc
}

// NewProber returns a sequential prober. doer should open a new connection
// per request so each probe pays for connection setup.
func NewProber(doer *http.Client, clock Clock) *Prober {
	return &Prober{doer: doer, clock: clock, Concurrency: 1}
}

// Probe requests latency.txt once and times it until the first bytes of the
// body arrive.
func (p *Prober) Probe(ctx context.Context, server *Server) ProbeOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, latencyURL(server.URL), nil)
	if err != nil {
		return ProbeOutcome{Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	start := p.clock.Now()
	resp, err := p.doer.Do(req)
	if err != nil {
		return ProbeOutcome{Err: err}
	}
	defer resp.Body.Close()

	buf := make([]byte, len(probeBody))
	_, err = io.ReadFull(resp.Body, buf)
	elapsed := p.clock.Now().Sub(start)

	switch {
	case resp.StatusCode != http.StatusOK:
		err = fmt.Errorf("unexpected status %s", resp.Status)
	case err != nil:
	case !bytes.Equal(buf, probeBody):
		err = fmt.Errorf("unexpected body %q", buf)
	}
	return ProbeOutcome{Elapsed: elapsed, Err: err}
}

type probeResult struct {
	score     float64
	jitter    float64 // standard deviation of successful probes, ms
	reachable bool
}

// probe runs probeAttempts probes against server in order.
func (p *Prober) probe(ctx context.Context, server *Server) probeResult {
	outcomes := make([]ProbeOutcome, 0, probeAttempts)
	rtt := internal.NewWelford(probeAttempts)
	for attempt := 0; attempt < probeAttempts; attempt++ {
		o := p.Probe(ctx, server)
		dbg.Printf("Probe %d of server %d: %v (err: %v)\n", attempt, server.ID, o.Elapsed, o.Err)
		if p.OnProbe != nil {
			p.OnProbe(server, attempt, o)
		}
		if o.Err == nil {
			rtt.Update(float64(o.Elapsed) / float64(time.Millisecond))
		}
		outcomes = append(outcomes, o)
	}
	return probeResult{
		score:     LatencyScore(outcomes),
		jitter:    rtt.StandardDeviation(),
		reachable: rtt.Len() > 0,
	}
}

// SelectBest probes every candidate and returns the one with the lowest
// score, the earliest candidate winning ties. Each probed server's Latency
// is set to its score and Jitter to the spread of its successful probes.
func (p *Prober) SelectBest(ctx context.Context, candidates Servers) (*Server, error) {
	if len(candidates) == 0 {
		return nil, ErrNoReachableServer
	}

	results := make([]probeResult, len(candidates))

	semaphore := make(chan struct{}, max(p.Concurrency, 1))
	var wg sync.WaitGroup
	for i, server := range candidates {
		i, server := i, server
		semaphore <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = p.probe(ctx, server)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := -1
	for i, server := range candidates {
		r := results[i]
		server.Latency = &r.score
		server.Jitter = &r.jitter
		if !r.reachable {
			continue
		}
		if best < 0 || r.score < results[best].score {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoReachableServer
	}
	return candidates[best], nil
}

// SelectBestServer picks the lowest latency server among candidates. Only one
// selection runs at a time per session.
func (s *Speedtest) SelectBestServer(ctx context.Context, candidates Servers, onProbe ProbeFunc) (*Server, error) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()

	p := NewProber(s.probeDoer, s.clock)
	p.Concurrency = s.probes
	p.OnProbe = onProbe
	return p.SelectBest(ctx, candidates)
}
