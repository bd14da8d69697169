package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudgetTotal(t *testing.T) {
	b := Budget{CredentialTimeout: 2 * time.Second, ProviderTimeout: 10 * time.Second}
	assert.Equal(t, 22*time.Second, b.Total())

	b.Deadline = 5 * time.Second
	assert.Equal(t, 5*time.Second, b.Total())

	assert.Equal(t, 42*time.Second, DefaultBudget().Total())
}

func TestBudgetValidate(t *testing.T) {
	assert.NoError(t, DefaultBudget().Validate())
	assert.Error(t, Budget{ProviderTimeout: time.Second}.Validate())
	assert.Error(t, Budget{CredentialTimeout: time.Second}.Validate())
	assert.Error(t, Budget{CredentialTimeout: time.Second, ProviderTimeout: time.Second, Deadline: -1}.Validate())
}

func TestRetryBackoffSeconds(t *testing.T) {
	cases := []struct {
		attempt int
		want    int
	}{
		{0, 0},
		{1, 1},
		{2, 2},
		{3, 4},
		{6, 30},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RetryBackoffSeconds(c.attempt), "attempt=%d", c.attempt)
	}
}

func TestShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))
}

func TestRetryReady(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	assert.True(t, p.RetryReady(0, 100, 100))
	assert.False(t, p.RetryReady(2, 100, 101))
	assert.True(t, p.RetryReady(2, 100, 102))
	assert.False(t, p.RetryReady(4, 0, 1000))
}
