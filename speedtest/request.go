package speedtest

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Version is reported in the User-Agent of every request.
const Version = "1.1.0"

const scheme = "http"

var userAgent = buildUserAgent()

func buildUserAgent() string {
	return strings.Join([]string{
		"Mozilla/5.0",
		fmt.Sprintf("(%s; U; %s; en-us)", runtime.GOOS, runtime.GOARCH),
		"Go/" + strings.TrimPrefix(runtime.Version(), "go"),
		"(KHTML, like Gecko)",
		"speedtest-osmc/" + Version,
	}, " ")
}

// UserAgent returns the User-Agent header sent with every request.
func UserAgent() string {
	return userAgent
}

// newRequest builds a GET-style request that intermediate caches will not
// answer from a stale copy: the URL carries x=<unix-ms>.<bump> and the
// request asks for no-cache. Scheme-relative URLs ("://host/...") use http.
func newRequest(ctx context.Context, method, rawURL, bump string) (*http.Request, error) {
	return buildRequest(ctx, method, rawURL, bump, time.Now())
}

func buildRequest(ctx context.Context, method, rawURL, bump string, now time.Time) (*http.Request, error) {
	if strings.HasPrefix(rawURL, "://") {
		rawURL = scheme + rawURL
	}
	delim := "?"
	if strings.Contains(rawURL, "?") {
		delim = "&"
	}
	finalURL := fmt.Sprintf("%s%sx=%d.%s", rawURL, delim, now.UnixMilli(), bump)
	dbg.Printf("Request: %s %s\n", method, finalURL)

	req, err := http.NewRequestWithContext(ctx, method, finalURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache")
	return req, nil
}
