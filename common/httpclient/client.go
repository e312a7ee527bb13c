// Package httpclient builds the shared *http.Client ProvderAdaptors use to
// call upstream providers. It mirrors the teacher's common/client.HTTPClient
// pattern (a single package-level client reused across adaptors) but adds
// per-credential proxy support, since ProxyCast credentials (unlike the
// teacher's channels) each carry their own optional ProxyURL.
package httpclient

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
)

// Default is the shared client used when a credential sets no proxy.
var Default = &http.Client{Timeout: 120 * time.Second}

var (
	proxyClientsMu sync.Mutex
	proxyClients   = map[string]*http.Client{}
)

// ForProxy returns an *http.Client routed through proxyURL, caching one
// client per distinct proxy URL so repeated calls don't rebuild a
// transport (and its connection pool) on every request.
func ForProxy(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return Default, nil
	}

	proxyClientsMu.Lock()
	defer proxyClientsMu.Unlock()
	if c, ok := proxyClients[proxyURL]; ok {
		return c, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse proxy url %q", proxyURL)
	}

	c := &http.Client{
		Timeout:   120 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}
	proxyClients[proxyURL] = c
	return c, nil
}
