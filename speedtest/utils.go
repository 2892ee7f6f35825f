package speedtest

import (
	"fmt"
	"strings"
)

// minimalPayloadSize is the size class fetched by concurrent workers.
const minimalPayloadSize = 1

// resourceURL replaces the last path element of a server's upload URL with
// name: "http://host/speedtest/upload.php" becomes
// "http://host/speedtest/<name>".
func resourceURL(serverURL, name string) string {
	i := strings.LastIndex(serverURL, "/")
	switch {
	case i < 0:
		return "/" + name
	case strings.HasSuffix(serverURL[:i+1], "://"):
		// bare host
		return serverURL + "/" + name
	}
	return serverURL[:i+1] + name
}

func payloadURL(serverURL string, size int) string {
	return resourceURL(serverURL, fmt.Sprintf("random%dx%d.jpg", size, size))
}

func latencyURL(serverURL string) string {
	return resourceURL(serverURL, "latency.txt")
}
