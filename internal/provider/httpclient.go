package provider

import (
	"net"
	"net/http"
	"time"
)

// defaultTimeout bounds every upstream call. The relay performs no retries,
// so a hung upstream request must fail in finite time for the caller's
// error-to-transcript path to fire.
const defaultTimeout = 30 * time.Second

// newHTTPClient returns a pooled HTTP client with sane connection limits for
// a single-upstream process.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
