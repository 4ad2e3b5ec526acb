package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/internal/metrics"
)

// RequestIDHeader carries the request id of a call to the remote side.
const RequestIDHeader = "X-Request-ID"

// Error is a failure to complete an HTTP exchange: connection refused,
// timeout, DNS failure, an open circuit or a cancelled pacing wait.
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
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

// CircuitBreakerConfig configures the breaker guarding one remote service.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failed exchanges open the circuit.
	FailureThreshold int
	// SuccessThreshold successful trial exchanges close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a trial exchange.
	Timeout time.Duration
}

// ErrCircuitOpen is wrapped by the transport error of a rejected exchange.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// errServerStatus marks 5xx answers the breaker counts as failures.
var errServerStatus = errors.New("remote server error")

// CircuitBreaker fails exchanges fast while the remote service keeps
// failing. It never retries. While half-open it lets exactly one trial
// exchange through at a time.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg CircuitBreakerConfig
	log *logging.Logger
	now func() time.Time

	state    CircuitState
	failures int
	trialOK  int
	trial    bool
	openedAt time.Time
	last     *Error
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *logging.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.NewDiscard("transport")
	}
	return &CircuitBreaker{cfg: cfg, log: log, now: time.Now}
}

// Allow admits one exchange of method on url, or returns a transport error
// wrapping ErrCircuitOpen that names the failure which tripped the circuit.
// Every admitted exchange must be reported through Success or Failure.
func (cb *CircuitBreaker) Allow(method, url string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transition(CircuitHalfOpen)
	}
	switch {
	case cb.state == CircuitClosed:
		return nil
	case cb.state == CircuitHalfOpen && !cb.trial:
		cb.trial = true
		return nil
	}
	return &Error{Method: method, URL: url, Err: fmt.Errorf("%w (last failure: %v)", ErrCircuitOpen, cb.last)}
}

// Success reports an exchange that reached the remote service and got a
// non-5xx answer.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state != CircuitHalfOpen {
		return
	}
	cb.trial = false
	cb.trialOK++
	if cb.trialOK >= cb.cfg.SuccessThreshold {
		cb.transition(CircuitClosed)
	}
}

// Failure reports an exchange that could not complete or got a 5xx answer.
func (cb *CircuitBreaker) Failure(failed *Error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.last = failed
	cb.failures++
	switch {
	case cb.state == CircuitHalfOpen:
		cb.transition(CircuitOpen)
	case cb.state == CircuitClosed && cb.failures >= cb.cfg.FailureThreshold:
		cb.transition(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.trial = false
	cb.trialOK = 0
	switch to {
	case CircuitOpen:
		cb.openedAt = cb.now()
	case CircuitClosed:
		cb.failures = 0
		cb.last = nil
	}

	metrics.RecordCircuitTransition(from.String(), to.String())
	entry := cb.log.Entry().WithField("from", from.String()).WithField("to", to.String())
	if cb.last != nil {
		entry = entry.WithField("url", cb.last.URL).WithError(cb.last.Err)
	}
	entry.Warn("remote circuit changed state")
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LastFailure returns the most recent failed exchange since the circuit was
// last closed, or nil.
func (cb *CircuitBreaker) LastFailure() *Error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.last
}
