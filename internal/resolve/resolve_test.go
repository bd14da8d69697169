package resolve

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stupiduntilnot/tutor/internal/control"
	"github.com/stupiduntilnot/tutor/internal/heuristic"
	"github.com/stupiduntilnot/tutor/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubResolver struct {
	key   string
	found bool
	calls atomic.Int32
}

func (s *stubResolver) Resolve(ctx context.Context, userID string) (string, bool) {
	s.calls.Add(1)
	return s.key, s.found
}

type stubClient struct {
	mu    sync.Mutex
	reqs  []provider.Request
	text  string
	err   error
	block bool // wait for ctx before returning
}

func (s *stubClient) Invoke(ctx context.Context, req provider.Request) (string, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.text, s.err
}

func (s *stubClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func testBudget() control.Budget {
	return control.Budget{
		CredentialTimeout: 100 * time.Millisecond,
		ProviderTimeout:   100 * time.Millisecond,
	}
}

func newOrchestrator(t *testing.T, creds CredentialResolver, personalized, generic provider.Client, logger *zap.Logger) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Credentials:  creds,
		Personalized: personalized,
		Generic:      generic,
		Heuristic:    heuristic.New(),
		Budget:       testBudget(),
		Logger:       logger,
	})
	require.NoError(t, err)
	return o
}

var in = Input{Message: "How do I practice?", UserID: "u1", UserEmail: "u1@example.com"}

func TestRun_PersonalizedSuccess(t *testing.T) {
	personalized := &stubClient{text: "Use your own plan."}
	generic := &stubClient{text: "generic"}
	o := newOrchestrator(t, &stubResolver{key: "sk-user", found: true}, personalized, generic, nil)

	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomePersonalized, res.Outcome)
	assert.Equal(t, "Use your own plan.", res.Text)
	assert.True(t, res.HasCredential)
	assert.Empty(t, res.Attempts)
	assert.Zero(t, generic.calls())

	require.Equal(t, 1, personalized.calls())
	assert.Equal(t, provider.Request{
		Message:    in.Message,
		UserID:     "u1",
		UserEmail:  "u1@example.com",
		Credential: "sk-user",
	}, personalized.reqs[0])
}

func TestRun_NoCredentialSkipsPersonalized(t *testing.T) {
	personalized := &stubClient{text: "should not be used"}
	generic := &stubClient{text: "Generic advice."}
	o := newOrchestrator(t, &stubResolver{}, personalized, generic, nil)

	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGeneric, res.Outcome)
	assert.Equal(t, "Generic advice.", res.Text)
	assert.Zero(t, personalized.calls())
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Skipped)
	assert.Equal(t, SkipNoCredential, res.Attempts[0].Class)
}

func TestRun_PersonalizedTimeoutThenGenericSuccess(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	personalized := &stubClient{block: true}
	generic := &stubClient{text: "Try scales slowly."}
	o := newOrchestrator(t, &stubResolver{key: "sk-user", found: true}, personalized, generic, zap.New(core))

	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGeneric, res.Outcome)
	assert.Equal(t, "Try scales slowly.", res.Text)

	require.Len(t, res.Attempts, 1)
	assert.Equal(t, OutcomePersonalized, res.Attempts[0].Tier)
	assert.Equal(t, provider.ClassTimeout, res.Attempts[0].Class)
	var timeoutErr *provider.TimeoutError
	assert.True(t, errors.As(res.Attempts[0].Err, &timeoutErr))

	failures := logs.FilterMessage("tier failed, falling back").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "personalized", failures[0].ContextMap()["tier"])
	assert.Equal(t, "timeout", failures[0].ContextMap()["error_class"])

	require.Equal(t, 1, generic.calls())
	assert.Empty(t, generic.reqs[0].Credential, "generic tier must not receive the user's key")
}

func TestRun_PersonalizedFailureInvokesGenericOnce(t *testing.T) {
	failures := []error{
		&provider.TransportError{Status: 500, Err: errors.New("boom")},
		&provider.MalformedResponseError{Reason: "missing response field"},
		errors.New("anything"),
	}
	for _, failure := range failures {
		t.Run(failure.Error(), func(t *testing.T) {
			personalized := &stubClient{err: failure}
			generic := &stubClient{err: errors.New("generic down")}
			o := newOrchestrator(t, &stubResolver{key: "k", found: true}, personalized, generic, nil)

			res, err := o.Run(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, 1, personalized.calls())
			assert.Equal(t, 1, generic.calls())
			assert.Equal(t, OutcomeHeuristic, res.Outcome)
			assert.NotEmpty(t, res.Text)
			require.Len(t, res.Attempts, 2)
		})
	}
}

func TestRun_BlankProviderTextFallsThrough(t *testing.T) {
	personalized := &stubClient{text: "   "}
	generic := &stubClient{text: ""}
	o := newOrchestrator(t, &stubResolver{key: "k", found: true}, personalized, generic, nil)

	res, err := o.Run(context.Background(), Input{Message: "Tell me about Bach", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.Equal(t, heuristic.New().Respond("Tell me about Bach"), res.Text)
	for _, a := range res.Attempts {
		assert.Equal(t, provider.ClassMalformed, a.Class)
	}
}

func TestRun_NoCredentialGenericFails(t *testing.T) {
	generic := &stubClient{err: &provider.TransportError{Err: errors.New("connection refused")}}
	o := newOrchestrator(t, &stubResolver{}, &stubClient{}, generic, nil)

	res, err := o.Run(context.Background(), Input{Message: "hello", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.True(t, slices.Contains(heuristic.Pool, res.Text))
}

func TestRun_TotalityWithoutProviders(t *testing.T) {
	o, err := New(Options{Heuristic: heuristic.New(), Budget: testBudget()})
	require.NoError(t, err)

	for _, msg := range []string{"", "   ", "bach", "¿qué tal?", string(make([]byte, 4096))} {
		res, err := o.Run(context.Background(), Input{Message: msg})
		require.NoError(t, err)
		assert.Equal(t, OutcomeHeuristic, res.Outcome)
		assert.NotEmpty(t, res.Text)
		require.Len(t, res.Attempts, 2)
		assert.Equal(t, SkipNoCredential, res.Attempts[0].Class)
		assert.Equal(t, SkipNotConfigured, res.Attempts[1].Class)
	}
}

func TestRun_CredentialWithoutPersonalizedClient(t *testing.T) {
	generic := &stubClient{text: "g"}
	o := newOrchestrator(t, &stubResolver{key: "k", found: true}, nil, generic, nil)

	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGeneric, res.Outcome)
	assert.Equal(t, SkipNotConfigured, res.Attempts[0].Class)
}

func TestRun_DeadlineSkipsRemainingNetworkTiers(t *testing.T) {
	personalized := &stubClient{block: true}
	generic := &stubClient{text: "never reached"}
	o, err := New(Options{
		Credentials:  &stubResolver{key: "k", found: true},
		Personalized: personalized,
		Generic:      generic,
		Heuristic:    heuristic.New(),
		Budget: control.Budget{
			CredentialTimeout: time.Second,
			ProviderTimeout:   time.Second,
			Deadline:          50 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	start := time.Now()
	res, err := o.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, OutcomeHeuristic, res.Outcome)
	assert.Zero(t, generic.calls())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, provider.ClassTimeout, res.Attempts[0].Class)
	assert.True(t, res.Attempts[1].Skipped)
	assert.Equal(t, SkipDeadline, res.Attempts[1].Class)
}

func TestRun_CancelledContextReturnsError(t *testing.T) {
	personalized := &stubClient{block: true}
	generic := &stubClient{text: "never reached"}
	o, err := New(Options{
		Credentials:  &stubResolver{key: "k", found: true},
		Personalized: personalized,
		Generic:      generic,
		Heuristic:    heuristic.New(),
		Budget:       control.Budget{CredentialTimeout: time.Second, ProviderTimeout: 5 * time.Second},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	res, err := o.Run(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Text)
	assert.Zero(t, generic.calls())
}

func TestRun_AlreadyCancelled(t *testing.T) {
	creds := &stubResolver{key: "k", found: true}
	personalized := &stubClient{text: "p"}
	o := newOrchestrator(t, creds, personalized, &stubClient{text: "g"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, personalized.calls())
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	generic := &stubClient{text: "shared generic"}
	o := newOrchestrator(t, &stubResolver{}, nil, generic, nil)

	var wg sync.WaitGroup
	results := make([]Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Run(context.Background(), in)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		assert.Equal(t, OutcomeGeneric, res.Outcome)
		assert.Len(t, res.Attempts, 1)
	}
	assert.Equal(t, 16, generic.calls())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Budget: testBudget()})
	assert.Error(t, err)

	_, err = New(Options{Heuristic: heuristic.New()})
	assert.Error(t, err)
}
