package speedtest

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrServerListUnavailable = errors.New("no server list mirror answered")
	ErrInvalidServerFilter   = errors.New("invalid server id")
)

var defaultMirrors = []string{
	"://www.speedtest.net/speedtest-servers-static.php",
	"http://c.speedtest.net/speedtest-servers-static.php",
	"://www.speedtest.net/speedtest-servers.php",
	"http://c.speedtest.net/speedtest-servers.php",
}

// Server information
type Server struct {
	ID       int     `json:"id"`
	URL      string  `json:"url"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name"`
	Country  string  `json:"country"`
	Sponsor  string  `json:"sponsor"`
	Host     string  `json:"host"`
	Distance float64 `json:"distance"`
	// Latency is the probe score in milliseconds, nil until probed.
	Latency *float64 `json:"latency,omitempty"`
	Jitter  *float64 `json:"jitter,omitempty"`
}

// Servers for sorting servers.
type Servers []*Server

// CustomServer returns a test target for a fixed URL, bypassing discovery.
// Payloads are requested next to the URL, so a directory URL gets a
// trailing slash unless it already names a script.
func CustomServer(rawURL string) *Server {
	if !strings.HasSuffix(rawURL, "/") && !strings.HasSuffix(rawURL, ".php") {
		rawURL += "/"
	}
	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.Index(host, "/"); i >= 0 {
		host = host[:i]
	}
	return &Server{
		URL:     rawURL,
		Name:    "User defined",
		Sponsor: "User defined",
		Host:    host,
	}
}

// ParseServerIDs converts server id arguments, each of which may hold a
// comma separated list, into integers.
func ParseServerIDs(args []string) ([]int, error) {
	var ids []int
	for _, arg := range args {
		for _, field := range strings.Split(arg, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidServerFilter, field)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ServerDirectory groups servers by their distance to the client. Servers
// at the same distance keep the order in which they were added.
type ServerDirectory struct {
	distances []float64
	servers   map[float64]Servers
	count     int
}

func NewServerDirectory() *ServerDirectory {
	return &ServerDirectory{servers: make(map[float64]Servers)}
}

// Add files the server under its Distance. Servers with a NaN distance
// cannot be ranked and are dropped.
func (d *ServerDirectory) Add(s *Server) {
	if math.IsNaN(s.Distance) {
		return
	}
	bucket, ok := d.servers[s.Distance]
	if !ok {
		i := sort.SearchFloat64s(d.distances, s.Distance)
		d.distances = append(d.distances, 0)
		copy(d.distances[i+1:], d.distances[i:])
		d.distances[i] = s.Distance
	}
	d.servers[s.Distance] = append(bucket, s)
	d.count++
}

// Len returns the number of servers in the directory.
func (d *ServerDirectory) Len() int {
	if d == nil {
		return 0
	}
	return d.count
}

// Closest returns at most limit servers, nearest first.
func (d *ServerDirectory) Closest(limit int) Servers {
	if d == nil || limit <= 0 {
		return Servers{}
	}
	out := make(Servers, 0, min(limit, d.count))
	for _, dist := range d.distances {
		for _, s := range d.servers[dist] {
			if len(out) == limit {
				return out
			}
			out = append(out, s)
		}
	}
	return out
}

// All returns every server, nearest first.
func (d *ServerDirectory) All() Servers {
	return d.Closest(d.Len())
}

type serverList struct {
	Servers []serverElement `xml:"servers>server"`
}

type serverElement struct {
	URL     string `xml:"url,attr"`
	Lat     string `xml:"lat,attr"`
	Lon     string `xml:"lon,attr"`
	Name    string `xml:"name,attr"`
	Country string `xml:"country,attr"`
	Sponsor string `xml:"sponsor,attr"`
	ID      string `xml:"id,attr"`
	Host    string `xml:"host,attr"`
}

func (e serverElement) server() (*Server, error) {
	id, err := strconv.Atoi(e.ID)
	if err != nil {
		return nil, fmt.Errorf("server id %q: %w", e.ID, err)
	}
	lat, err := strconv.ParseFloat(e.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("server %d lat %q: %w", id, e.Lat, err)
	}
	lon, err := strconv.ParseFloat(e.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("server %d lon %q: %w", id, e.Lon, err)
	}
	return &Server{
		ID:      id,
		URL:     e.URL,
		Lat:     lat,
		Lon:     lon,
		Name:    e.Name,
		Country: e.Country,
		Sponsor: e.Sponsor,
		Host:    e.Host,
	}, nil
}

// buildDirectory keeps the servers that pass the allow-list and the
// configuration's ignore list, ranked by distance to the client. It also
// returns how many entries of the list were well formed.
func buildDirectory(list *serverList, cfg *TestConfig, allowIDs []int) (*ServerDirectory, int) {
	allow := make(map[int]struct{}, len(allowIDs))
	for _, id := range allowIDs {
		allow[id] = struct{}{}
	}

	dir := NewServerDirectory()
	valid := 0
	for _, e := range list.Servers {
		server, err := e.server()
		if err != nil {
			dbg.Printf("Skip server: %v\n", err)
			continue
		}
		valid++
		if _, ok := allow[server.ID]; len(allow) > 0 && !ok {
			continue
		}
		if cfg.Ignored(server.ID) {
			continue
		}
		server.Distance = Distance(cfg.Client.Coordinate, Coordinate{Lat: server.Lat, Lon: server.Lon})
		dir.Add(server)
	}
	return dir, valid
}

// FetchServerDirectory retrieves the server list from the first mirror that
// answers with at least one well-formed server. The filters are applied to
// that list only, so it may yield an empty directory with a nil error. When
// every mirror fails it returns an empty directory together with an error
// wrapping ErrServerListUnavailable.
func (s *Speedtest) FetchServerDirectory(ctx context.Context, cfg *TestConfig, allowIDs []int) (*ServerDirectory, error) {
	var errs []error
	for _, mirror := range s.mirrors {
		dir, err := s.fetchMirror(ctx, mirror, cfg, allowIDs)
		if err != nil {
			dbg.Printf("Mirror %s: %v\n", mirror, err)
			errs = append(errs, fmt.Errorf("%s: %w", mirror, err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return NewServerDirectory(), ctxErr
			}
			continue
		}

		s.mu.Lock()
		s.directory = dir
		s.mu.Unlock()
		return dir, nil
	}
	return NewServerDirectory(), fmt.Errorf("%w: %w", ErrServerListUnavailable, errors.Join(errs...))
}

func (s *Speedtest) fetchMirror(ctx context.Context, mirror string, cfg *TestConfig, allowIDs []int) (*ServerDirectory, error) {
	req, err := newRequest(ctx, http.MethodGet, fmt.Sprintf("%s?threads=%d", mirror, cfg.Threads.Download), "")
	if err != nil {
		return nil, err
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var list serverList
	if err = xml.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, err
	}
	dir, valid := buildDirectory(&list, cfg, allowIDs)
	if valid == 0 {
		return nil, errEmptyServerList
	}
	if dir.Len() == 0 {
		dbg.Printf("Mirror %s: %d servers, none pass the filters\n", mirror, valid)
	}
	return dir, nil
}

var errEmptyServerList = errors.New("empty server list")

// ClosestServers returns up to limit servers nearest to the client. The
// configuration and directory are fetched on first use and reused after.
func (s *Speedtest) ClosestServers(ctx context.Context, limit int) (Servers, error) {
	dir := s.Directory()
	if dir.Len() > 0 {
		return dir.Closest(limit), nil
	}

	cfg := s.Config()
	if cfg == nil {
		var err error
		if cfg, err = s.FetchConfig(ctx); err != nil {
			return nil, err
		}
	}
	dir, err := s.FetchServerDirectory(ctx, cfg, s.allowIDs)
	return dir.Closest(limit), err
}

// String representation of Servers
func (servers Servers) String() string {
	var sb strings.Builder
	for _, server := range servers {
		sb.WriteString(server.String())
	}
	return sb.String()
}

// String representation of Server
func (s *Server) String() string {
	return fmt.Sprintf("[%5d] %8.2fkm %s (%s) by %s\n", s.ID, s.Distance, s.Name, s.Country, s.Sponsor)
}
