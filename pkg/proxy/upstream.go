package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// maxBodySize caps how much of an origin response is buffered.
const maxBodySize = 10 << 20

// upstreamResult is a fully buffered origin response.
type upstreamResult struct {
	status  int
	header  http.Header
	body    []byte
	cookies []*http.Cookie
}

// fetch issues a GET to the origin with browser-profile headers and an
// optional session token replayed as the Cookie header.
func (s *Server) fetch(ctx context.Context, host, url, token string) (*upstreamResult, error) {
	if err := s.limiters.wait(ctx, host); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	s.browserHeaders(req)
	if token != "" {
		req.Header.Set("Cookie", token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &upstreamResult{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		cookies: resp.Cookies(),
	}, nil
}

// browserHeaders applies the request profile the gate expects from a
// real browser.
func (s *Server) browserHeaders(req *http.Request) {
	h := req.Header
	h.Set("User-Agent", s.cfg.Upstream.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Dest", "document")
}

// limiterPool hands out one rate limiter per origin host.
type limiterPool struct {
	rps   float64
	burst int
	mu    sync.Mutex
	byKey map[string]*rate.Limiter
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{rps: rps, burst: burst, byKey: make(map[string]*rate.Limiter)}
}

// wait blocks until the host's limiter admits a request. A zero rate
// means unlimited.
func (p *limiterPool) wait(ctx context.Context, host string) error {
	if p.rps <= 0 {
		return nil
	}
	p.mu.Lock()
	lim, ok := p.byKey[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.byKey[host] = lim
	}
	p.mu.Unlock()
	return lim.Wait(ctx)
}
