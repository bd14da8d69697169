// Package credential resolves the per-user API key used by the personalized
// provider tier.
package credential

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound means the user has no stored credential. It is not a failure.
var ErrNotFound = errors.New("credential not found")

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 2 * time.Second

// Store looks up a credential by user id.
type Store interface {
	Lookup(ctx context.Context, userID string) (string, error)
}

// Resolver wraps a Store with a fixed timeout and absent-on-error semantics.
type Resolver struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a Resolver. A non-positive timeout uses DefaultTimeout.
func NewResolver(store Store, timeout time.Duration, logger *zap.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, timeout: timeout, logger: logger}
}

// Resolve returns the user's credential and true, or "" and false when none
// is available. Storage errors other than ErrNotFound are logged and treated
// as absent.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, bool) {
	if r == nil || r.store == nil || strings.TrimSpace(userID) == "" {
		return "", false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key, err := r.store.Lookup(lookupCtx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("credential lookup failed, treating as absent",
			zap.String("user_id", userID),
			zap.Duration("timeout", r.timeout),
			zap.Error(err))
		return "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	return key, true
}
