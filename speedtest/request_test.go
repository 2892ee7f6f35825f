package speedtest

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestBuildRequestCacheBuster(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	testData := []struct {
		url  string
		bump string
		want string
	}{
		{"://www.speedtest.net/speedtest-config.php", "", "http://www.speedtest.net/speedtest-config.php?x=1700000000123."},
		{"http://c.speedtest.net/speedtest-servers.php?threads=8", "", "http://c.speedtest.net/speedtest-servers.php?threads=8&x=1700000000123."},
		{"http://example.com/speedtest/random350x350.jpg", "3", "http://example.com/speedtest/random350x350.jpg?x=1700000000123.3"},
	}

	for _, v := range testData {
		req, err := buildRequest(context.Background(), http.MethodGet, v.url, v.bump, now)
		if err != nil {
			t.Fatalf("buildRequest(%q): %v", v.url, err)
		}
		if got := req.URL.String(); got != v.want {
			t.Errorf("got: %s, want: %s", got, v.want)
		}
		if got := req.Header.Get("Cache-Control"); got != "no-cache" {
			t.Errorf("Cache-Control got: %q, want: no-cache", got)
		}
		if got := req.Header.Get("User-Agent"); got != UserAgent() {
			t.Errorf("User-Agent got: %q", got)
		}
	}
}

func TestNewRequestUsesWallClock(t *testing.T) {
	req, err := newRequest(context.Background(), http.MethodGet, "http://example.com/a", "7")
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^x=\d{13}\.7$`).MatchString(req.URL.RawQuery) {
		t.Errorf("unexpected cache buster: %s", req.URL.RawQuery)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "Mozilla/5.0 (") || !strings.HasSuffix(ua, "speedtest-osmc/"+Version) {
		t.Errorf("unexpected user agent: %s", ua)
	}
}
