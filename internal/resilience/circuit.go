package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe requests through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration
	// ShouldTrip decides which errors count as failures. Nil counts transient
	// errors only, so a 404 for an unknown company never opens a source.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// CircuitBreaker guards a single third-party source.
type CircuitBreaker struct {
	name  string
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	openedAt            time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &CircuitBreaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is open. Once the reset
// timeout has elapsed the breaker moves to half-open and admits a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen {
		if cb.nowFunc().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.consecutiveFailures = 0
		if cb.state == CircuitHalfOpen {
			cb.transition(CircuitClosed)
		}
		return
	}

	cb.consecutiveFailures++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.nowFunc()
		if cb.state != CircuitOpen {
			cb.transition(CircuitOpen)
		}
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	zap.L().Info("circuit breaker state change",
		zap.String("source", cb.name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", to),
	)
	cb.state = to
}

// SourceBreakers manages one circuit breaker per scrape source.
type SourceBreakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewSourceBreakers creates a registry of per-source circuit breakers.
func NewSourceBreakers(cfg CircuitBreakerConfig) *SourceBreakers {
	return &SourceBreakers{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

// Get returns the breaker for source, creating one if needed.
func (sb *SourceBreakers) Get(source string) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb, ok := sb.breakers[source]
	if !ok {
		cb = NewCircuitBreaker(source, sb.cfg)
		sb.breakers[source] = cb
	}
	return cb
}

// States returns a snapshot of all circuit breaker states.
func (sb *SourceBreakers) States() map[string]CircuitState {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for name, cb := range sb.breakers {
		states[name] = cb.State()
	}
	return states
}
