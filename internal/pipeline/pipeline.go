// Package pipeline assembles a resolve.Orchestrator from configuration.
package pipeline

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/stupiduntilnot/tutor/internal/config"
	"github.com/stupiduntilnot/tutor/internal/credential"
	"github.com/stupiduntilnot/tutor/internal/dummy"
	"github.com/stupiduntilnot/tutor/internal/heuristic"
	"github.com/stupiduntilnot/tutor/internal/openai"
	"github.com/stupiduntilnot/tutor/internal/provider"
	"github.com/stupiduntilnot/tutor/internal/resolve"
)

// Build wires the credential store on database, both provider tiers and the
// heuristic responder into an orchestrator.
func Build(cfg *config.WorkerConfig, database *sql.DB, logger *zap.Logger) (*resolve.Orchestrator, error) {
	budget := cfg.Budget()
	personalized, err := NewProvider(cfg, resolve.OutcomePersonalized, cfg.PersonalizedProvider, cfg.DummyPersonalizedScript)
	if err != nil {
		return nil, fmt.Errorf("personalized provider: %w", err)
	}
	generic, err := NewProvider(cfg, resolve.OutcomeGeneric, cfg.GenericProvider, cfg.DummyGenericScript)
	if err != nil {
		return nil, fmt.Errorf("generic provider: %w", err)
	}
	return resolve.New(resolve.Options{
		Credentials:  credential.NewResolver(&credential.SQLiteStore{DB: database}, budget.CredentialTimeout, logger),
		Personalized: personalized,
		Generic:      generic,
		Heuristic:    heuristic.New(),
		Budget:       budget,
		Logger:       logger,
	})
}

// NewProvider builds the client for one tier. Kind "none" returns a nil
// client, which disables the tier.
func NewProvider(cfg *config.WorkerConfig, tier resolve.Outcome, kind, dummyScript string) (provider.Client, error) {
	timeout := cfg.Budget().ProviderTimeout
	switch kind {
	case config.ProviderEdge:
		return provider.NewEdgeClient(cfg.EdgeFunctionURL, cfg.EdgeAnonKey, timeout), nil
	case config.ProviderOpenAI:
		apiKey := cfg.OpenAIAPIKey
		if tier == resolve.OutcomePersonalized {
			apiKey = "" // only the user's own key
		}
		return openai.NewClient(apiKey, cfg.OpenAIURL, cfg.OpenAIModel, timeout).WithSystemPrompt(cfg.SystemPrompt), nil
	case config.ProviderDummy:
		p, err := dummy.NewProvider(string(tier), dummyScript)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", kind)
	}
}
