// Package transport provides the shared HTTP plumbing both registry
// clients build on: a DNS-cached dialer (the same two registries are hit
// repeatedly over one resolution), exponential-backoff retry for
// transient failures, and a per-host circuit breaker that turns repeated
// failures into pmerr.RegistryUnavailable instead of retrying forever.
// Grounded on _examples/git-pkgs-registries/fetch/fetcher.go and
// fetch/circuit_breaker.go.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
	"github.com/rs/dnscache"

	"github.com/polypm-dev/polypm/internal/pmerr"
)

// NewHTTPClient builds an *http.Client whose dialer resolves hosts through a
// refreshing DNS cache, matching the teacher's single shared client per
// service but avoiding a fresh DNS lookup per request across a resolution
// that touches the same registry host hundreds of times.
func NewHTTPClient(timeout time.Duration) *http.Client {
	resolver := &dnscache.Resolver{}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}

				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}

				var lastErr error

				for _, ip := range ips {
					conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if dialErr == nil {
						return conn, nil
					}

					lastErr = dialErr
				}

				return nil, fmt.Errorf("dialing %s: %w", host, lastErr)
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// BreakerGroup holds one circuit breaker per registry host, opening once
// five failures have been counted (circuit.ThresholdTripFunc(5)) so a downed
// registry fails fast instead of being hammered with retries.
type BreakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker
}

// NewBreakerGroup creates an empty breaker group.
func NewBreakerGroup() *BreakerGroup {
	return &BreakerGroup{breakers: make(map[string]*circuit.Breaker)}
}

func (g *BreakerGroup) breaker(host string) *circuit.Breaker {
	g.mu.RLock()
	b, ok := g.breakers[host]
	g.mu.RUnlock()

	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[host]; ok {
		return b
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 30 * time.Second
	eb.MaxInterval = 5 * time.Minute
	eb.Multiplier = 2.0

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    eb,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})

	g.breakers[host] = b

	return b
}

// Call runs fn through the breaker for rawURL's host. If the breaker is
// open it returns pmerr.RegistryUnavailable without attempting fn. Any
// error fn itself returns (including an already-classified *pmerr.Error)
// is passed through unchanged so callers keep their specific Kind.
func (g *BreakerGroup) Call(rawURL, ecosystem, name string, fn func() error) error {
	host := hostOf(rawURL)
	b := g.breaker(host)

	if !b.Ready() {
		return pmerr.New(pmerr.RegistryUnavailable, ecosystem, name,
			fmt.Errorf("circuit open for %s", host)).WithRegistry(rawURL)
	}

	return b.Call(fn, 0)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	return u.Host
}

// RetryBackoff returns a backoff.BackOff configured for the engine's
// single-retry-with-500ms-backoff policy (spec.md §4.2), exposed as a
// reusable object rather than each client hand-rolling math.Pow loops.
func RetryBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.Multiplier = 2.0
	eb.RandomizationFactor = 0

	return backoff.WithMaxRetries(eb, 1) // one retry: initial attempt + one backed-off retry
}
