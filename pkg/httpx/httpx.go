// Package httpx builds the HTTP clients used to talk to the hosting
// service: a tuned transport, an overall per-request timeout, and an
// optional client-side token bucket so a full-history run stays inside
// the service's rate limits.
package httpx

import (
	"net"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/time/rate"
)

// NewClient creates an *http.Client with sane transport limits and the
// given overall timeout. When rps > 0 every request first waits on a token
// bucket filled at rps tokens per second with the given burst size.
func NewClient(timeout time.Duration, rps float64, burst int) *http.Client {
	var rt http.RoundTripper = newTransport()
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		rt = &limitedTransport{
			base:    rt,
			limiter: rate.NewLimiter(rate.Limit(rps), burst),
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   runtime.GOMAXPROCS(0) + 1,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// limitedTransport delays each request until the token bucket allows it.
// Waiting respects the request context, so a canceled run never blocks on
// the limiter.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
