package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/breaker"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/dispatch"
)

// stubProvider is an in-memory Provider with a scripted outcome.
type stubProvider struct {
	name   string
	models []string
	resp   *ChatResponse
	err    error

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string              { return s.name }
func (s *stubProvider) SupportedModels() []string { return s.models }
func (s *stubProvider) SupportsModel(model string) bool {
	for _, m := range s.models {
		if m == model {
			return true
		}
	}
	return false
}

func (s *stubProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubProvider) ValidateAPIKey(ctx context.Context) error { return nil }
func (s *stubProvider) Close() error                             { return nil }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func okStub(name string, models ...string) *stubProvider {
	return &stubProvider{
		name:   name,
		models: models,
		resp:   &ChatResponse{Content: "from " + name, Provider: name},
	}
}

func failStub(name string, err error, models ...string) *stubProvider {
	return &stubProvider{name: name, models: models, err: err}
}

func newTestManager(strategy config.ProviderStrategy, registry map[string]*config.LLMProviderConfig, providers ...Provider) *Manager {
	if registry == nil {
		registry = map[string]*config.LLMProviderConfig{}
	}
	m := &Manager{
		cfg: &config.Config{
			Strategy:            strategy,
			LLMProviderRegistry: config.NewLLMProviderRegistry(registry),
		},
		providers: make(map[string]Provider),
		breakers: breaker.NewRegistry(&config.BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  time.Minute,
			SuccessThreshold: 2,
		}),
		dispatcher: dispatch.NewController(&config.ConcurrencyConfig{
			Initial:            4,
			Min:                1,
			Max:                8,
			AdjustmentInterval: time.Hour,
		}),
		strategy: strategy,
		log:      slog.Default(),
		requests: make(map[string]int64),
	}
	for _, p := range providers {
		m.RegisterProvider(p)
	}
	return m
}

func chatReq(model string) *ChatRequest {
	return &ChatRequest{
		Model:    model,
		Messages: []ChatMessage{{Role: RoleUser, Content: "analyze this"}},
	}
}

func TestManagerFallsBackOnFailure(t *testing.T) {
	bad := failStub("alpha", &Error{Provider: "alpha", Kind: KindServer, StatusCode: 502}, "m1")
	good := okStub("beta", "m1")
	m := newTestManager(config.StrategyRoundRobin, nil, bad, good)

	resp, err := m.ChatCompletion(context.Background(), chatReq("m1"))
	require.NoError(t, err)
	assert.Equal(t, "from beta", resp.Content)
	assert.Equal(t, 1, bad.callCount())

	counts := m.RequestCounts()
	assert.EqualValues(t, 1, counts["beta"])
	assert.Zero(t, counts["alpha"])
}

func TestManagerWithoutFallback(t *testing.T) {
	bad := failStub("alpha", &Error{Provider: "alpha", Kind: KindServer, StatusCode: 500}, "m1")
	good := okStub("beta", "m1")
	m := newTestManager(config.StrategyRoundRobin, nil, bad, good)

	_, err := m.ChatCompletion(context.Background(), chatReq("m1"), WithoutFallback())
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindServer, perr.Kind)
	assert.Zero(t, good.callCount())
}

func TestManagerPreferredProvider(t *testing.T) {
	a := okStub("alpha", "m1")
	b := okStub("beta", "m1")
	m := newTestManager(config.StrategyRoundRobin, nil, a, b)

	resp, err := m.ChatCompletion(context.Background(), chatReq("m1"), WithPreferredProvider("beta"))
	require.NoError(t, err)
	assert.Equal(t, "from beta", resp.Content)
	assert.Zero(t, a.callCount())
}

func TestManagerNoEligibleProvider(t *testing.T) {
	m := newTestManager(config.StrategyRoundRobin, nil, okStub("alpha", "m1"))

	_, err := m.ChatCompletion(context.Background(), chatReq("unknown-model"))
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestManagerAllProvidersFail(t *testing.T) {
	errAlpha := &Error{Provider: "alpha", Kind: KindServer, StatusCode: 500}
	errBeta := &Error{Provider: "beta", Kind: KindTimeout}
	m := newTestManager(config.StrategyRoundRobin, nil,
		failStub("alpha", errAlpha, "m1"),
		failStub("beta", errBeta, "m1"))

	_, err := m.ChatCompletion(context.Background(), chatReq("m1"))
	require.Error(t, err)
	// The last provider's error is re-raised
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
	assert.Equal(t, "beta", perr.Provider)
}

func TestManagerSkipsOpenBreaker(t *testing.T) {
	bad := failStub("alpha", &Error{Provider: "alpha", Kind: KindServer, StatusCode: 503}, "m1")
	good := okStub("beta", "m1")
	m := newTestManager(config.StrategyRoundRobin, nil, bad, good)

	// Trip alpha's breaker: 5 failed calls without fallback
	for i := 0; i < 5; i++ {
		_, err := m.ChatCompletion(context.Background(), chatReq("m1"),
			WithPreferredProvider("alpha"), WithoutFallback())
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, m.BreakerStates()["alpha"])

	// Alpha is refused without being called; beta serves the request
	before := bad.callCount()
	resp, err := m.ChatCompletion(context.Background(), chatReq("m1"),
		WithPreferredProvider("alpha"))
	require.NoError(t, err)
	assert.Equal(t, "from beta", resp.Content)
	assert.Equal(t, before, bad.callCount())
}

func TestOrderProvidersRoundRobin(t *testing.T) {
	m := newTestManager(config.StrategyRoundRobin, nil,
		okStub("alpha", "m1"), okStub("beta", "m1"), okStub("gamma", "m1"))

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, m.orderProviders("m1", ""))

	m.mu.Lock()
	m.lastUsed = "alpha"
	m.mu.Unlock()
	assert.Equal(t, []string{"beta", "gamma", "alpha"}, m.orderProviders("m1", ""))
}

func TestOrderProvidersCostOptimized(t *testing.T) {
	registry := map[string]*config.LLMProviderConfig{
		"pricey": {CostWeight: 0.9},
		"cheap":  {CostWeight: 0.1},
		"mid":    {CostWeight: 0.5},
	}
	m := newTestManager(config.StrategyCostOptimized, registry,
		okStub("pricey", "m1"), okStub("cheap", "m1"), okStub("mid", "m1"))

	assert.Equal(t, []string{"cheap", "mid", "pricey"}, m.orderProviders("m1", ""))
}

func TestOrderProvidersPreferredFirst(t *testing.T) {
	m := newTestManager(config.StrategyRoundRobin, nil,
		okStub("alpha", "m1"), okStub("beta", "m1"))

	got := m.orderProviders("m1", "beta")
	require.Len(t, got, 2)
	assert.Equal(t, "beta", got[0])

	// Unknown preferred name leaves the ordering untouched
	got = m.orderProviders("m1", "nobody")
	assert.Equal(t, "alpha", got[0])
}

func TestManagerProviders(t *testing.T) {
	m := newTestManager(config.StrategyRoundRobin, nil,
		okStub("beta", "m1"), okStub("alpha", "m1"))
	assert.Equal(t, []string{"alpha", "beta"}, m.Providers())
}

func TestChatRequestValidate(t *testing.T) {
	valid := func() *ChatRequest { return chatReq("m1") }

	assert.NoError(t, valid().Validate(0))

	r := valid()
	r.Messages = nil
	assert.Error(t, r.Validate(0))

	r = valid()
	r.Messages = []ChatMessage{{Role: RoleUser, Content: ""}}
	assert.Error(t, r.Validate(0))

	r = valid()
	temp := 2.5
	r.Temperature = &temp
	assert.Error(t, r.Validate(0))

	r = valid()
	topP := 1.5
	r.TopP = &topP
	assert.Error(t, r.Validate(0))

	// ~chars/4 estimated tokens must stay under 80% of the context limit
	r = valid()
	r.Messages = []ChatMessage{{Role: RoleUser, Content: strings.Repeat("x", 4000)}}
	assert.NoError(t, r.Validate(2000), "1000 tokens under 1600 limit")
	assert.Error(t, r.Validate(1000), "1000 tokens at the 800 threshold")
}

func TestErrorRetryable(t *testing.T) {
	retryable := []ErrorKind{KindRateLimit, KindServer, KindTimeout}
	for _, k := range retryable {
		assert.True(t, (&Error{Kind: k}).Retryable(), string(k))
	}
	terminal := []ErrorKind{KindAuth, KindValidation, KindAPI}
	for _, k := range terminal {
		assert.False(t, (&Error{Kind: k}).Retryable(), string(k))
	}
}

func TestClassify(t *testing.T) {
	// Already-classified errors pass through, gaining the provider name
	in := &Error{Kind: KindRateLimit, Message: "slow down"}
	out := classify("qwen", in)
	assert.Same(t, in, out)
	assert.Equal(t, "qwen", out.Provider)

	// Unknown errors become transport timeouts
	plain := errors.New("connection reset")
	out = classify("qwen", plain)
	assert.Equal(t, KindTimeout, out.Kind)
	assert.ErrorIs(t, out, plain)
}

func TestErrorFormat(t *testing.T) {
	e := &Error{Provider: "qwen", Kind: KindServer, StatusCode: 502, Message: "bad gateway"}
	assert.Equal(t, "provider qwen: server (HTTP 502): bad gateway", e.Error())

	e = &Error{Kind: KindValidation, Message: "no messages"}
	assert.Equal(t, "validation: no messages", e.Error())
}

func TestServerMessage(t *testing.T) {
	assert.Equal(t, "quota exceeded",
		serverMessage([]byte(`{"error": {"message": "quota exceeded", "type": "rate_limit"}}`)))

	assert.Equal(t, "plain text body", serverMessage([]byte("  plain text body\n")))

	long := strings.Repeat("a", 300)
	assert.Len(t, serverMessage([]byte(long)), 200)
}
