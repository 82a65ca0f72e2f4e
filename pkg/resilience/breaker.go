package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen reports that an endpoint's breaker is rejecting calls while
// the endpoint recovers. Callers treat it as non-retriable: backing off
// against an open breaker only delays the inevitable.
var ErrCircuitOpen = errors.New("endpoint temporarily unavailable: circuit breaker open")

// BreakerConfig mirrors the llm.breaker_* configuration knobs.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before allowing
	// half-open probe calls.
	RecoveryTimeout time.Duration

	// HalfOpenSuccesses is the consecutive-success count that closes the
	// breaker again. A failure during half-open reopens it immediately.
	HalfOpenSuccesses int
}

// Breaker guards one logical endpoint.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker builds a breaker with the closed → open → half-open → closed
// lifecycle: FailureThreshold consecutive failures open it, RecoveryTimeout
// later probes are admitted, and HalfOpenSuccesses consecutive successes
// close it.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenSuccesses),
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs op under the breaker. Calls rejected because the breaker is open
// (or because the half-open probe budget is spent) return ErrCircuitOpen
// without invoking op.
func (b *Breaker) Do(op func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the current breaker state: "closed", "half-open", or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

// Counts exposes the underlying failure/success counters.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// BreakerGroup lazily creates one breaker per key so each logical endpoint
// trips independently.
type BreakerGroup struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup builds an empty group; breakers materialize on first Get.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *BreakerGroup) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[key]; ok {
		return b
	}
	b := NewBreaker(key, g.cfg)
	g.breakers[key] = b
	return b
}
