package speedtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

// NewProxyTransport returns a transport that sends every request through the
// proxy at rawURL. http and https proxies are used as forward proxies,
// socks5 and socks5h ones as dialers.
func NewProxyTransport(rawURL string) (*http.Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("proxy %q: %w", rawURL, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", u.Host, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, u.Scheme)
	}
	dbg.Printf("Proxy: %s://%s\n", u.Scheme, u.Host)
	return transport, nil
}
