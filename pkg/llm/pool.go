package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Health rules for cached clients.
const (
	// maxClientAge forces periodic recreation regardless of health.
	maxClientAge = time.Hour

	// failureLimit is the failure count past which a client is only kept
	// while it has succeeded recently.
	failureLimit = 5

	// successWindow is how recent that success has to be.
	successWindow = 60 * time.Second

	// credentialKeyChars is how much of the credential participates in the
	// cache key. Enough to separate tenants, short enough not to store the
	// whole secret in key form.
	credentialKeyChars = 10
)

// Key derives the pool cache key for an endpoint+credential pair.
func Key(endpointURL, credentialRef string) string {
	n := len(credentialRef)
	if n > credentialKeyChars {
		n = credentialKeyChars
	}
	return endpointURL + ":" + credentialRef[:n]
}

// Pool caches one Client per endpoint+credential and tracks its health.
// Clients with too many unrecovered failures, or past the age limit, are
// transparently rebuilt on the next Acquire.
type Pool struct {
	factory func(Options) *Client
	now     func() time.Time

	mu             sync.Mutex
	clients        map[string]*poolEntry
	totalRequests  int64
	totalSuccesses int64
}

type poolEntry struct {
	client      *Client
	createdAt   time.Time
	lastSuccess time.Time
	failures    int
	requests    int64
	successes   int64
}

// healthy implements the reuse rule: a client is kept while it is younger
// than maxClientAge and either under the failure limit or recently
// successful.
func (e *poolEntry) healthy(now time.Time) bool {
	if now.Sub(e.createdAt) >= maxClientAge {
		return false
	}
	if e.failures < failureLimit {
		return true
	}
	return now.Sub(e.lastSuccess) < successWindow
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		factory: NewClient,
		now:     time.Now,
		clients: make(map[string]*poolEntry),
	}
}

// Acquire returns the cached client for the endpoint+credential in opts,
// creating or recreating it when missing or unhealthy.
func (p *Pool) Acquire(opts Options) *Client {
	key := Key(opts.BaseURL, opts.APIKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.clients[key]; ok {
		if e.healthy(p.now()) {
			return e.client
		}
		slog.Info("Recreating unhealthy LLM client",
			"endpoint", opts.BaseURL,
			"failures", e.failures,
			"age", p.now().Sub(e.createdAt).Round(time.Second))
		delete(p.clients, key)
	}

	now := p.now()
	e := &poolEntry{
		client:      p.factory(opts),
		createdAt:   now,
		lastSuccess: now,
	}
	p.clients[key] = e
	return e.client
}

// RecordSuccess notes a completed call: the failure count decays by one and
// the success timestamp refreshes.
func (p *Pool) RecordSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.totalSuccesses++

	e, ok := p.clients[key]
	if !ok {
		return
	}
	e.requests++
	e.successes++
	if e.failures > 0 {
		e.failures--
	}
	e.lastSuccess = p.now()
}

// RecordFailure notes a failed call against the client's health.
func (p *Pool) RecordFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++

	e, ok := p.clients[key]
	if !ok {
		return
	}
	e.requests++
	e.failures++
}

// StartSweeper evicts unhealthy clients in the background until ctx is done.
// Purely an optimization: Acquire already refuses to hand out unhealthy
// clients.
func (p *Pool) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	evicted := 0
	for key, e := range p.clients {
		if !e.healthy(now) {
			delete(p.clients, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("Swept unhealthy LLM clients", "evicted", evicted, "active", len(p.clients))
	}
}

// ClientStats is a per-key stats snapshot.
type ClientStats struct {
	Requests   int64   `json:"requests"`
	Successes  int64   `json:"successes"`
	Failures   int     `json:"failures"`
	AgeSeconds float64 `json:"age_seconds"`
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	ActiveClients  int                    `json:"active_clients"`
	TotalRequests  int64                  `json:"total_requests"`
	TotalSuccesses int64                  `json:"total_successes"`
	SuccessRate    float64                `json:"success_rate"`
	Clients        map[string]ClientStats `json:"clients"`
}

// Stats snapshots the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := PoolStats{
		ActiveClients:  len(p.clients),
		TotalRequests:  p.totalRequests,
		TotalSuccesses: p.totalSuccesses,
		Clients:        make(map[string]ClientStats, len(p.clients)),
	}
	if p.totalRequests > 0 {
		stats.SuccessRate = float64(p.totalSuccesses) / float64(p.totalRequests)
	}
	for key, e := range p.clients {
		stats.Clients[key] = ClientStats{
			Requests:   e.requests,
			Successes:  e.successes,
			Failures:   e.failures,
			AgeSeconds: now.Sub(e.createdAt).Seconds(),
		}
	}
	return stats
}
