package resolve

import (
	"context"
	"strings"
	"time"

	"github.com/stupiduntilnot/tutor/internal/provider"
)

// Tier is one strategy in the fallback sequence. Attempt returns non-blank
// text on success and an error otherwise.
type Tier interface {
	Name() Outcome
	Attempt(ctx context.Context, req provider.Request) (string, error)
}

// ProviderTier calls a provider.Client once, bounded by Timeout.
type ProviderTier struct {
	Outcome       Outcome
	Client        provider.Client
	Timeout       time.Duration
	UseCredential bool // false strips the credential from the request
}

func (t *ProviderTier) Name() Outcome { return t.Outcome }

// Attempt makes exactly one call. Blank text counts as a malformed response.
func (t *ProviderTier) Attempt(ctx context.Context, req provider.Request) (string, error) {
	if !t.UseCredential {
		req.Credential = ""
	}
	callCtx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	text, err := t.Client.Invoke(callCtx, req)
	if err != nil {
		return "", provider.Normalize(callCtx, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &provider.MalformedResponseError{Reason: "blank reply"}
	}
	return text, nil
}

// HeuristicTier wraps the local responder. It never fails.
type HeuristicTier struct {
	Responder Responder
}

func (t HeuristicTier) Name() Outcome { return OutcomeHeuristic }

func (t HeuristicTier) Attempt(_ context.Context, req provider.Request) (string, error) {
	return t.Responder.Respond(req.Message), nil
}
