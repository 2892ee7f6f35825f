package speedtest

import "testing"

func TestResourceURL(t *testing.T) {
	cases := []struct {
		in, name, want string
	}{
		{"http://example.com/speedtest/upload.php", "latency.txt", "http://example.com/speedtest/latency.txt"},
		{"http://example.com/speedtest/", "latency.txt", "http://example.com/speedtest/latency.txt"},
		{"http://example.com", "latency.txt", "http://example.com/latency.txt"},
		{"http://example.com/", "random1x1.jpg", "http://example.com/random1x1.jpg"},
		{"upload.php", "latency.txt", "/latency.txt"},
	}
	for _, c := range cases {
		if got := resourceURL(c.in, c.name); got != c.want {
			t.Errorf("resourceURL(%q, %q) = %q, want %q", c.in, c.name, got, c.want)
		}
	}

	if got := payloadURL("http://example.com/speedtest/upload.php", 350); got != "http://example.com/speedtest/random350x350.jpg" {
		t.Errorf("payloadURL = %q", got)
	}
}
