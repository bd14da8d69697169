package control

import (
	"fmt"
	"time"
)

// Budget bounds the time one resolution run may spend on network tiers.
type Budget struct {
	CredentialTimeout time.Duration
	ProviderTimeout   time.Duration
	// Deadline caps the whole run; zero means the sum of the per-tier timeouts.
	Deadline time.Duration
}

// DefaultBudget returns the default per-tier timeouts.
func DefaultBudget() Budget {
	return Budget{
		CredentialTimeout: 2 * time.Second,
		ProviderTimeout:   20 * time.Second,
	}
}

// Total returns the end-to-end deadline of a run.
func (b Budget) Total() time.Duration {
	if b.Deadline > 0 {
		return b.Deadline
	}
	return b.CredentialTimeout + 2*b.ProviderTimeout
}

// Validate rejects non-positive tier timeouts.
func (b Budget) Validate() error {
	if b.CredentialTimeout <= 0 {
		return fmt.Errorf("credential timeout must be positive, got %s", b.CredentialTimeout)
	}
	if b.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive, got %s", b.ProviderTimeout)
	}
	if b.Deadline < 0 {
		return fmt.Errorf("deadline must not be negative, got %s", b.Deadline)
	}
	return nil
}

// RetryPolicy governs redelivery of replies whose send failed.
type RetryPolicy struct {
	MaxRetries int
}

// RetryBackoffSeconds computes exponential backoff with a fixed cap.
func RetryBackoffSeconds(attempt int) int {
	if attempt <= 0 {
		return 0
	}
	seconds := 1 << (attempt - 1)
	if seconds > 30 {
		return 30
	}
	return seconds
}

// ShouldRetry returns whether a failed attempt should be retried.
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts <= p.MaxRetries
}

// RetryReady reports whether a task that failed at updatedAt may run again now.
func (p RetryPolicy) RetryReady(attempts, updatedAt, nowUnix int64) bool {
	if attempts <= 0 {
		return true
	}
	if !p.ShouldRetry(int(attempts)) {
		return false
	}
	backoff := int64(RetryBackoffSeconds(int(attempts)))
	return nowUnix-updatedAt >= backoff
}
