package speedtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// kmPerDegree is the length of one degree of longitude on the equator.
const kmPerDegree = 111.19492664455873

func serverEntry(id int, km float64) string {
	return fmt.Sprintf(`<server url="http://s%d.example.com/speedtest/upload.php" lat="0" lon="%v" name="City%d" country="Nowhere" cc="NW" sponsor="Sponsor%d" id="%d" host="s%d.example.com:8080"/>`,
		id, km/kmPerDegree, id, id, id, id)
}

func serverFixture(entries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<settings><servers>` + strings.Join(entries, "\n") + `</servers></settings>`
}

func equatorConfig(ignore ...int) *TestConfig {
	cfg := &TestConfig{IgnoreServers: map[int]struct{}{}, Threads: Directions{Download: 4}}
	for _, id := range ignore {
		cfg.IgnoreServers[id] = struct{}{}
	}
	return cfg
}

func ids(servers Servers) []int {
	out := make([]int, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.ID)
	}
	return out
}

func TestFetchServerDirectoryIgnoresServers(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(serverFixture(serverEntry(5, 30), serverEntry(2, 20), serverEntry(1, 10))))
	}))
	defer ts.Close()

	s := New(WithMirrors(ts.URL + "/speedtest-servers-static.php"))
	dir, err := s.FetchServerDirectory(context.Background(), equatorConfig(5), nil)
	if err != nil {
		t.Fatalf("FetchServerDirectory: %v", err)
	}
	if !strings.HasPrefix(query, "threads=4&x=") {
		t.Errorf("query = %q", query)
	}
	if dir.Len() != 2 {
		t.Fatalf("directory holds %d servers, want 2", dir.Len())
	}
	for _, server := range dir.All() {
		if server.ID == 5 {
			t.Fatal("ignored server 5 is in the directory")
		}
	}

	got := dir.Closest(2)
	if fmt.Sprint(ids(got)) != "[1 2]" {
		t.Errorf("Closest(2) = %v, want [1 2]", ids(got))
	}
	if d := got[0].Distance; d < 9.999 || d > 10.001 {
		t.Errorf("distance of server 1 = %v, want 10", d)
	}
	if s.Directory() != dir {
		t.Error("session did not keep the directory")
	}
}

func TestFetchServerDirectoryAllowList(t *testing.T) {
	ts := serveXML(t, serverFixture(serverEntry(1, 10), serverEntry(2, 20), serverEntry(3, 30)))

	s := New(WithMirrors(ts.URL))
	dir, err := s.FetchServerDirectory(context.Background(), equatorConfig(), []int{3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(ids(dir.All())); got != "[2 3]" {
		t.Errorf("directory = %v, want [2 3]", got)
	}
}

func TestFetchServerDirectoryMirrorFallthrough(t *testing.T) {
	var hits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()
	garbage := serveXML(t, "<settings><servers><server")
	empty := serveXML(t, serverFixture())
	good := serveXML(t, serverFixture(serverEntry(7, 5)))

	s := New(WithMirrors(failing.URL, garbage.URL, empty.URL, good.URL))
	dir, err := s.FetchServerDirectory(context.Background(), equatorConfig(), nil)
	if err != nil {
		t.Fatalf("FetchServerDirectory: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("failing mirror hit %d times", hits.Load())
	}
	if got := ids(dir.All()); len(got) != 1 || got[0] != 7 {
		t.Errorf("directory = %v, want [7]", got)
	}
}

func TestFetchServerDirectoryExhausted(t *testing.T) {
	empty := serveXML(t, serverFixture())
	onlyInvalid := serveXML(t, serverFixture(`<server url="http://a/upload.php" lat="0" lon="0" id="abc"/>`))

	s := New(WithMirrors(empty.URL, onlyInvalid.URL))
	dir, err := s.FetchServerDirectory(context.Background(), equatorConfig(), nil)
	if !errors.Is(err, ErrServerListUnavailable) {
		t.Fatalf("err = %v, want ErrServerListUnavailable", err)
	}
	if dir == nil || dir.Len() != 0 {
		t.Fatalf("directory = %v, want empty", dir)
	}
	if got := dir.Closest(3); len(got) != 0 {
		t.Errorf("Closest on empty directory = %v", got)
	}
}

func TestFetchServerDirectoryFiltersMatchNothing(t *testing.T) {
	var hits [3]atomic.Int32
	mirrors := make([]string, len(hits))
	for i := range hits {
		i := i
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i].Add(1)
			_, _ = w.Write([]byte(serverFixture(serverEntry(1, 10), serverEntry(2, 20))))
		}))
		defer ts.Close()
		mirrors[i] = ts.URL
	}

	tests := []struct {
		name     string
		cfg      *TestConfig
		allowIDs []int
	}{
		{"allow list", equatorConfig(), []int{99}},
		{"ignore list", equatorConfig(1, 2), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range hits {
				hits[i].Store(0)
			}
			s := New(WithMirrors(mirrors...))
			dir, err := s.FetchServerDirectory(context.Background(), tt.cfg, tt.allowIDs)
			if err != nil {
				t.Fatalf("FetchServerDirectory: %v", err)
			}
			if dir.Len() != 0 {
				t.Errorf("directory = %v, want empty", ids(dir.All()))
			}
			if a, b, c := hits[0].Load(), hits[1].Load(), hits[2].Load(); a != 1 || b != 0 || c != 0 {
				t.Errorf("mirror hits = %d %d %d, want 1 0 0", a, b, c)
			}
		})
	}
}

func TestFetchServerDirectorySkipsInvalidEntries(t *testing.T) {
	ts := serveXML(t, serverFixture(
		`<server url="http://a/upload.php" lat="0" lon="0.1" id="abc"/>`,
		`<server url="http://b/upload.php" lat="north" lon="0.1" id="8"/>`,
		serverEntry(9, 1),
	))

	dir, err := New(WithMirrors(ts.URL)).FetchServerDirectory(context.Background(), equatorConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(dir.All()); len(got) != 1 || got[0] != 9 {
		t.Errorf("directory = %v, want [9]", got)
	}
}

func TestServerDirectoryClosest(t *testing.T) {
	dir := NewServerDirectory()
	for i, d := range []float64{30, 10, 20, 10, 0} {
		dir.Add(&Server{ID: i, Distance: d})
	}

	// ties keep insertion order
	if got := fmt.Sprint(ids(dir.Closest(3))); got != "[4 1 3]" {
		t.Errorf("Closest(3) = %v", got)
	}
	if got := fmt.Sprint(ids(dir.Closest(3))); got != "[4 1 3]" {
		t.Errorf("second Closest(3) = %v", got)
	}

	for limit := -1; limit <= 7; limit++ {
		got := dir.Closest(limit)
		if len(got) > limit && limit >= 0 || len(got) > dir.Len() || limit <= 0 && len(got) != 0 {
			t.Errorf("Closest(%d) returned %d servers", limit, len(got))
		}
	}
}

func TestClosestServersIsLazy(t *testing.T) {
	var configHits, listHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/speedtest-config.php", func(w http.ResponseWriter, r *http.Request) {
		configHits.Add(1)
		_, _ = w.Write([]byte(strings.Replace(strings.Replace(configFixture, `lat="35.6833"`, `lat="0"`, 1), `lon="139.7667"`, `lon="0"`, 1)))
	})
	mux.HandleFunc("/servers.php", func(w http.ResponseWriter, r *http.Request) {
		listHits.Add(1)
		_, _ = w.Write([]byte(serverFixture(serverEntry(3, 30), serverEntry(5, 1), serverEntry(2, 20))))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := New(WithConfigURL(ts.URL+"/speedtest-config.php"), WithMirrors(ts.URL+"/servers.php"))
	for i := 0; i < 2; i++ {
		got, err := s.ClosestServers(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		// server 5 is on the fixture's ignore list
		if len(got) != 1 || got[0].ID != 2 {
			t.Errorf("ClosestServers(1) = %v, want [2]", ids(got))
		}
	}
	if configHits.Load() != 1 || listHits.Load() != 1 {
		t.Errorf("config fetched %d times, list fetched %d times", configHits.Load(), listHits.Load())
	}
}

func TestParseServerIDs(t *testing.T) {
	got, err := ParseServerIDs([]string{"1,2", " 3 ", ""})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("ParseServerIDs = %v", got)
	}

	if _, err = ParseServerIDs([]string{"12", "tokyo"}); !errors.Is(err, ErrInvalidServerFilter) {
		t.Errorf("err = %v, want ErrInvalidServerFilter", err)
	}
}

func TestCustomServer(t *testing.T) {
	cases := []struct {
		in, url, host string
	}{
		{"http://example.com/speedtest", "http://example.com/speedtest/", "example.com"},
		{"http://example.com:8080/speedtest/", "http://example.com:8080/speedtest/", "example.com:8080"},
		{"http://example.com/speedtest/upload.php", "http://example.com/speedtest/upload.php", "example.com"},
	}
	for _, c := range cases {
		s := CustomServer(c.in)
		if s.URL != c.url || s.Host != c.host || s.Sponsor != "User defined" || s.Distance != 0 {
			t.Errorf("CustomServer(%q) = %+v", c.in, s)
		}
	}
	if got := payloadURL(CustomServer("http://example.com/speedtest").URL, 1); got != "http://example.com/speedtest/random1x1.jpg" {
		t.Errorf("payload url = %q", got)
	}
}
