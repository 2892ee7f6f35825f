package speedtest

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/osmc/speedtest-osmc/speedtest/control"
)

// Clock supplies time readings for elapsed-time measurements.
type Clock = control.Clock

// Speedtest is one test session. Configuration, server directory and
// counters belong to the session and are discarded with it.
type Speedtest struct {
	ID string

	doer      *http.Client
	probeDoer *http.Client
	clock     Clock
	configURL string
	mirrors   []string
	location  *Location
	probes    int

	config    *TestConfig
	directory *ServerDirectory
	allowIDs  []int
	meter     *Meter

	mu      sync.Mutex
	probeMu sync.Mutex
}

// Option is a function that can be passed to New to modify the Client.
type Option func(*Speedtest)

// WithDoer sets the http.Client used to make requests.
func WithDoer(doer *http.Client) Option {
	return func(s *Speedtest) {
		s.doer = doer
	}
}

// WithClock replaces the clock used for latency and throughput timing.
func WithClock(clock Clock) Option {
	return func(s *Speedtest) {
		s.clock = clock
	}
}

// WithConfigURL points configuration retrieval at another document.
func WithConfigURL(u string) Option {
	return func(s *Speedtest) {
		s.configURL = u
	}
}

// WithMirrors replaces the server list endpoints, tried in order.
func WithMirrors(mirrors ...string) Option {
	return func(s *Speedtest) {
		s.mirrors = mirrors
	}
}

// WithLocation overrides the client coordinate reported by the configuration.
func WithLocation(loc *Location) Option {
	return func(s *Speedtest) {
		s.location = loc
	}
}

// WithServerIDs restricts the server directory to the given ids.
func WithServerIDs(ids ...int) Option {
	return func(s *Speedtest) {
		s.allowIDs = ids
	}
}

// WithProbeConcurrency probes up to n candidates at once. Probes against a
// single candidate always stay sequential.
func WithProbeConcurrency(n int) Option {
	return func(s *Speedtest) {
		s.probes = n
	}
}

// New creates a new speedtest session.
func New(opts ...Option) *Speedtest {
	s := &Speedtest{
		ID:        uuid.NewString(),
		doer:      http.DefaultClient,
		clock:     control.SystemClock,
		configURL: speedTestConfigUrl,
		mirrors:   defaultMirrors,
		probes:    1,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.probeDoer = freshConnectionClient(s.doer)
	s.meter = NewMeter(s.doer, s.clock)
	return s
}

// freshConnectionClient derives a client that opens a new connection per
// request, so every latency probe includes connection setup.
func freshConnectionClient(doer *http.Client) *http.Client {
	var base *http.Transport
	switch t := doer.Transport.(type) {
	case nil:
		base = http.DefaultTransport.(*http.Transport)
	case *http.Transport:
		base = t
	default:
		return doer
	}
	transport := base.Clone()
	transport.DisableKeepAlives = true
	return &http.Client{
		Transport:     transport,
		CheckRedirect: doer.CheckRedirect,
		Jar:           doer.Jar,
		Timeout:       doer.Timeout,
	}
}

// Config returns the configuration fetched by this session, if any.
func (s *Speedtest) Config() *TestConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Directory returns the server directory built by this session, if any.
func (s *Speedtest) Directory() *ServerDirectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directory
}

// Meter returns the throughput meter bound to this session's client and clock.
func (s *Speedtest) Meter() *Meter {
	return s.meter
}
