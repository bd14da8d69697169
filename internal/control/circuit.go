package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker pauses polling of the chat transport after repeated
// failures of the same error class. It is owned by the poll loop and is not
// safe for concurrent use.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	failures    map[string]int
	openedAt    time.Time
	openedClass string
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[string]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// Allow returns whether a poll may run at this instant. The returned bool
// reports whether this call moved the breaker from open to half-open.
func (c *CircuitBreaker) Allow(now time.Time) (allowed bool, halfOpened bool) {
	if c.state != CircuitOpen {
		return true, false
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true, true
	}
	return false, false
}

// RecordSuccess closes the breaker and reports whether it was not closed before.
func (c *CircuitBreaker) RecordSuccess() (recovered bool) {
	recovered = c.state != CircuitClosed
	c.state = CircuitClosed
	c.openedClass = ""
	c.failures = map[string]int{}
	return recovered
}

// RecordFailure counts an error of the given class and reports whether this
// failure opened the breaker.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) (opened bool) {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.trip(errClass, now)
		return true
	}
	c.failures[errClass]++
	if c.state == CircuitClosed && c.failures[errClass] >= c.Threshold {
		c.trip(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) trip(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = errClass
}

func (c *CircuitBreaker) OpenedClass() string {
	return c.openedClass
}
