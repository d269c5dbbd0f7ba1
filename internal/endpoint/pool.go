// Package endpoint implements the ordered primary+backup RPC endpoint pool:
// per-endpoint health tracking, rotation on failure, recovery after a
// cooldown window, and a 429-aware retry wrapper.
package endpoint

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
)

// Endpoint is one RPC URL tracked by the pool.
type Endpoint struct {
	URL string

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	healthy     bool
}

// MaskedURL returns the endpoint's URL with any recognized api-key query
// parameter redacted, safe to place in a log line.
func (e *Endpoint) MaskedURL() string {
	return MaskURL(e.URL)
}

// MaskURL redacts api_key/api-key/x-api-key-shaped query parameters.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	masked := false
	for _, key := range []string{"api_key", "api-key", "x-api-key", "token", "key"} {
		if q.Get(key) != "" {
			q.Set(key, "***")
			masked = true
		}
	}
	if !masked {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Thresholds bound endpoint health tracking and retry back-off.
type Thresholds struct {
	MaxFailures     int           // consecutive failures before unhealthy
	RecoveryWindow  time.Duration // time since last failure before eligible again
	BackoffBase     time.Duration // first 429 back-off sleep
	BackoffCap      time.Duration // maximum 429 back-off sleep
	MaxRotateRetries int          // retries after the first attempt against non-429 failures before giving up
}

// DefaultThresholds match spec §4.B: 1s/2s/4s/8s/8s back-off, 5 consecutive
// failures to go unhealthy, 60s recovery window.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxFailures:      5,
		RecoveryWindow:   60 * time.Second,
		BackoffBase:      1 * time.Second,
		BackoffCap:       8 * time.Second,
		MaxRotateRetries: 3,
	}
}

// Pool is the ordered endpoint set, primary first.
type Pool struct {
	mu         sync.Mutex
	endpoints  []*Endpoint
	activeIdx  int
	thresholds Thresholds

	HTTPClient *http.Client
}

// NewPool builds a pool from an ordered list of URLs (primary first).
func NewPool(urls []string, thresholds Thresholds) *Pool {
	eps := make([]*Endpoint, 0, len(urls))
	for _, u := range urls {
		eps = append(eps, &Endpoint{URL: u, healthy: true})
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	// Upgrade to HTTP/2 where the endpoint supports it; falls back to
	// HTTP/1.1 transparently when it doesn't.
	_ = http2.ConfigureTransport(transport)

	return &Pool{
		endpoints:  eps,
		thresholds: thresholds,
		HTTPClient: &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
}

// Current returns the active endpoint handle.
func (p *Pool) Current() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.activeIdx]
}

// ReportSuccess resets the active endpoint's failure counter.
func (p *Pool) ReportSuccess() {
	ep := p.Current()
	ep.mu.Lock()
	ep.failures = 0
	ep.healthy = true
	ep.mu.Unlock()
}

// ReportFailure increments the active endpoint's failure counter and marks
// it unhealthy once MaxFailures is reached.
func (p *Pool) ReportFailure() {
	ep := p.Current()
	ep.mu.Lock()
	ep.failures++
	ep.lastFailure = time.Now()
	if ep.failures >= p.thresholds.MaxFailures {
		if ep.healthy {
			log.Warn().Str("endpoint", ep.MaskedURL()).Msg("endpoint marked unhealthy")
		}
		ep.healthy = false
	}
	ep.mu.Unlock()
}

func (e *Endpoint) isHealthy(recovery time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.healthy {
		return true
	}
	if time.Since(e.lastFailure) > recovery {
		return true
	}
	return false
}

// RotateToHealthy advances the active index to the next endpoint reporting
// healthy (or eligible for recovery), wrapping around the ordered list.
func (p *Pool) RotateToHealthy() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	for i := 1; i <= n; i++ {
		idx := (p.activeIdx + i) % n
		if p.endpoints[idx].isHealthy(p.thresholds.RecoveryWindow) {
			p.activeIdx = idx
			return p.endpoints[idx]
		}
	}
	// No healthy peer: advance anyway (forced rotation), the caller will
	// see the failure and the retry wrapper decides what to do next.
	p.activeIdx = (p.activeIdx + 1) % n
	return p.endpoints[p.activeIdx]
}

// ForceRotate unconditionally advances to the next endpoint in order.
func (p *Pool) ForceRotate() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeIdx = (p.activeIdx + 1) % len(p.endpoints)
	return p.endpoints[p.activeIdx]
}

// RateLimited marks an error as a 429/rate-limit condition, detected by
// status code or message substring (JSON-RPC transports surface 429 as a
// plain HTTP status, not a typed error).
func RateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "too many requests") || strings.Contains(s, "rate limit")
}

// Do executes op against the current endpoint, applying spec §4.B's retry
// policy: on a 429 it backs off (1s, 2s, 4s, capped at 8s) without
// rotating; on any other failure it rotates to the next healthy peer and
// retries up to MaxRotateRetries times. Success and final failure report
// to the pool's health tracker.
func (p *Pool) Do(op func(ep *Endpoint) error) error {
	backoff := p.thresholds.BackoffBase
	var lastErr error

	attempts := p.thresholds.MaxRotateRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; ; attempt++ {
		ep := p.Current()
		err := op(ep)
		if err == nil {
			p.ReportSuccess()
			return nil
		}
		lastErr = err

		if RateLimited(err) {
			log.Warn().Str("endpoint", ep.MaskedURL()).Dur("backoff", backoff).Msg("rate limited, backing off without rotating")
			time.Sleep(backoff)
			backoff *= 2
			if backoff > p.thresholds.BackoffCap {
				backoff = p.thresholds.BackoffCap
			}
			continue
		}

		p.ReportFailure()
		if attempt >= attempts {
			break
		}
		p.RotateToHealthy()
	}

	return lastErr
}

// Status is one endpoint's masked URL and health, as returned by Statuses.
type Status struct {
	URL         string
	Healthy     bool
	Failures    int
	LastFailure time.Time
}

func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		ep.mu.Lock()
		out = append(out, Status{
			URL:         ep.MaskedURL(),
			Healthy:     ep.healthy || time.Since(ep.lastFailure) > p.thresholds.RecoveryWindow,
			Failures:    ep.failures,
			LastFailure: ep.lastFailure,
		})
		ep.mu.Unlock()
	}
	return out
}
