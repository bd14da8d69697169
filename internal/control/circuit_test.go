package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	c := NewCircuitBreaker(2, 100*time.Millisecond)
	now := time.Now()

	assert.Equal(t, CircuitClosed, c.State())

	assert.False(t, c.RecordFailure("command_source", now))
	assert.Equal(t, CircuitClosed, c.State())

	assert.True(t, c.RecordFailure("command_source", now))
	assert.Equal(t, CircuitOpen, c.State())
	assert.Equal(t, "command_source", c.OpenedClass())

	allowed, halfOpened := c.Allow(now.Add(10 * time.Millisecond))
	assert.False(t, allowed)
	assert.False(t, halfOpened)

	allowed, halfOpened = c.Allow(now.Add(120 * time.Millisecond))
	assert.True(t, allowed)
	assert.True(t, halfOpened)
	assert.Equal(t, CircuitHalfOpen, c.State())

	assert.True(t, c.RecordSuccess())
	assert.Equal(t, CircuitClosed, c.State())
	assert.False(t, c.RecordSuccess())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	c := NewCircuitBreaker(1, time.Millisecond)
	now := time.Now()
	assert.True(t, c.RecordFailure("", now))
	assert.Equal(t, "unknown", c.OpenedClass())

	allowed, _ := c.Allow(now.Add(time.Second))
	assert.True(t, allowed)
	assert.True(t, c.RecordFailure("db", now.Add(time.Second)))
	assert.Equal(t, CircuitOpen, c.State())
	assert.Equal(t, "db", c.OpenedClass())
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	c := NewCircuitBreaker(0, 0)
	assert.Equal(t, 5, c.Threshold)
	assert.Equal(t, 30*time.Second, c.Cooldown)
}
