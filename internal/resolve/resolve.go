// Package resolve turns one user message into exactly one assistant reply by
// walking an ordered list of tiers: the user's personalized provider, the
// shared generic provider, and finally the local heuristic responder.
//
// Tiers run strictly one after another. A tier that errors, times out or
// yields blank text is recorded and the next tier is tried. The heuristic
// tier cannot fail, so Run always produces text unless the caller's context
// is cancelled.
package resolve

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/tutor/internal/control"
	"github.com/stupiduntilnot/tutor/internal/provider"
)

// Outcome names the tier that produced the reply.
type Outcome string

const (
	OutcomePersonalized Outcome = "personalized"
	OutcomeGeneric      Outcome = "generic"
	OutcomeHeuristic    Outcome = "heuristic"
)

// Input is the message being answered and who sent it.
type Input struct {
	Message   string
	UserID    string
	UserEmail string
}

// Attempt records one tier that did not produce the reply.
type Attempt struct {
	Tier    Outcome
	Skipped bool // true when the tier never ran
	Class   string
	Err     error
	Latency time.Duration
}

// Result is the outcome of one run.
type Result struct {
	Outcome       Outcome
	Text          string
	HasCredential bool
	Attempts      []Attempt
	Latency       time.Duration
}

// CredentialResolver returns a user's credential, or false when absent.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (string, bool)
}

// Responder is the terminal, always-successful tier.
type Responder interface {
	Respond(text string) string
}

// Skip classes recorded for tiers that never ran.
const (
	SkipNoCredential  = "no_credential"
	SkipNotConfigured = "not_configured"
	SkipDeadline      = "deadline"
)

// Orchestrator runs the tier sequence. It holds no per-run state and is safe
// for concurrent use when its collaborators are.
type Orchestrator struct {
	credentials  CredentialResolver
	personalized provider.Client
	generic      provider.Client
	heuristic    Responder
	budget       control.Budget
	logger       *zap.Logger
}

// Options configures an Orchestrator. Personalized and Generic may be nil,
// in which case the tier is skipped.
type Options struct {
	Credentials  CredentialResolver
	Personalized provider.Client
	Generic      provider.Client
	Heuristic    Responder
	Budget       control.Budget
	Logger       *zap.Logger
}

// New builds an Orchestrator. Heuristic is required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Heuristic == nil {
		return nil, errors.New("resolve: heuristic responder is required")
	}
	if err := opts.Budget.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		credentials:  opts.Credentials,
		personalized: opts.Personalized,
		generic:      opts.Generic,
		heuristic:    opts.Heuristic,
		budget:       opts.Budget,
		logger:       logger,
	}, nil
}

// Run resolves in. The only error it returns is the parent context's error
// when ctx is cancelled; in that case the Result must be discarded.
func (o *Orchestrator) Run(ctx context.Context, in Input) (Result, error) {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.budget.Total())
	defer cancel()

	logger := o.logger.With(zap.String("user_id", in.UserID))
	req := provider.Request{
		Message:   in.Message,
		UserID:    in.UserID,
		UserEmail: in.UserEmail,
	}

	var res Result
	if o.credentials != nil {
		req.Credential, res.HasCredential = o.credentials.Resolve(runCtx, in.UserID)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	for _, t := range o.plan(res.HasCredential) {
		if reason := t.skip; reason != "" {
			res.Attempts = append(res.Attempts, Attempt{Tier: t.Name(), Skipped: true, Class: reason})
			continue
		}
		if t.network && runCtx.Err() != nil {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			res.Attempts = append(res.Attempts, Attempt{Tier: t.Name(), Skipped: true, Class: SkipDeadline})
			logger.Warn("tier skipped, run deadline exceeded",
				zap.String("tier", string(t.Name())),
				zap.Duration("deadline", o.budget.Total()))
			continue
		}

		tierStart := time.Now()
		text, err := t.Attempt(runCtx, req)
		latency := time.Since(tierStart)
		if err == nil {
			res.Outcome = t.Name()
			res.Text = text
			res.Latency = time.Since(started)
			logger.Info("reply resolved",
				zap.String("outcome", string(res.Outcome)),
				zap.Duration("latency", latency),
				zap.Int("failed_tiers", countFailed(res.Attempts)))
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		class := provider.Classify(err)
		res.Attempts = append(res.Attempts, Attempt{Tier: t.Name(), Class: class, Err: err, Latency: latency})
		logger.Warn("tier failed, falling back",
			zap.String("tier", string(t.Name())),
			zap.String("error_class", class),
			zap.Duration("latency", latency),
			zap.Error(err))
	}

	// Unreachable while the heuristic tier closes the plan.
	res.Outcome = OutcomeHeuristic
	res.Text = o.heuristic.Respond(in.Message)
	res.Latency = time.Since(started)
	return res, nil
}

type step struct {
	Tier
	network bool
	skip    string
}

// plan lists this run's tiers in order. The heuristic tier is always last.
func (o *Orchestrator) plan(hasCredential bool) []step {
	personalized := step{
		Tier:    &ProviderTier{Outcome: OutcomePersonalized, Client: o.personalized, Timeout: o.budget.ProviderTimeout, UseCredential: true},
		network: true,
	}
	switch {
	case !hasCredential:
		personalized.skip = SkipNoCredential
	case o.personalized == nil:
		personalized.skip = SkipNotConfigured
	}
	generic := step{
		Tier:    &ProviderTier{Outcome: OutcomeGeneric, Client: o.generic, Timeout: o.budget.ProviderTimeout},
		network: true,
	}
	if o.generic == nil {
		generic.skip = SkipNotConfigured
	}
	return []step{personalized, generic, {Tier: HeuristicTier{Responder: o.heuristic}}}
}

func countFailed(attempts []Attempt) int {
	n := 0
	for _, a := range attempts {
		if !a.Skipped {
			n++
		}
	}
	return n
}
