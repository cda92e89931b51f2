package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/ratelimit"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/recursion"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/version"
)

// Provider is one LLM backend.
type Provider interface {
	Name() string
	SupportedModels() []string
	SupportsModel(model string) bool
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ValidateAPIKey(ctx context.Context) error
	Close() error
}

// Retry policy bounds.
const (
	defaultMaxRetries   = 3
	baseRetryDelay      = time.Second
	maxRetryDelay       = 60 * time.Second
	defaultHTTPTimeout  = 120 * time.Second
	defaultProbeTimeout = 15 * time.Second
)

// HTTPProvider talks to one OpenAI-compatible endpoint.
type HTTPProvider struct {
	name       string
	cfg        *config.LLMProviderConfig
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	maxRetries int
	log        *slog.Logger
}

// NewHTTPProvider creates a provider bound to one endpoint and API key.
// The limiter is the provider's process-wide rate limiter.
func NewHTTPProvider(name string, cfg *config.LLMProviderConfig, limiter *ratelimit.Limiter) *HTTPProvider {
	return &HTTPProvider{
		name:       name,
		cfg:        cfg,
		apiKey:     cfg.APIKey(),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    limiter,
		maxRetries: defaultMaxRetries,
		log:        slog.With("provider", name),
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return p.name }

// SupportedModels lists the models the provider serves.
func (p *HTTPProvider) SupportedModels() []string { return p.cfg.Models }

// SupportsModel reports whether the provider serves the model.
func (p *HTTPProvider) SupportsModel(model string) bool { return p.cfg.SupportsModel(model) }

// Limiter exposes the provider's rate limiter for stats reporting.
func (p *HTTPProvider) Limiter() *ratelimit.Limiter { return p.limiter }

// ChatCompletion validates, rate-limits, sends, and classifies one request,
// retrying transient failures with classified backoff.
func (p *HTTPProvider) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if !p.SupportsModel(req.Model) {
		return nil, &Error{
			Provider: p.name,
			Kind:     KindValidation,
			Message:  fmt.Sprintf("model %q not supported", req.Model),
		}
	}
	if err := req.Validate(p.cfg.ContextLimit(req.Model, config.DefaultMaxContextTokens)); err != nil {
		return nil, classify(p.name, err)
	}

	// Admission: 1 RPM token plus the estimated TPM cost. Blocks for the
	// advised delay when a bucket is empty.
	estimate, err := p.limiter.AcquireWithEstimation(ctx, req.ContentLength())
	if err != nil {
		return nil, classify(p.name, err)
	}

	schedules := make(map[ErrorKind]backoff.BackOff)
	var lastErr *Error
	for attempt := 0; ; attempt++ {
		resp, err := p.post(ctx, req)
		if err == nil {
			p.limiter.RecordActualUsage(resp.Usage.TotalTokens)
			return resp, nil
		}

		// A recursion violation inside the pipeline is a caller bug, never a
		// transient condition.
		var rerr *recursion.Error
		if errors.As(err, &rerr) {
			return nil, err
		}

		lastErr = classify(p.name, err)
		if !lastErr.Retryable() || attempt >= p.maxRetries {
			break
		}

		delay := p.retryDelay(schedules, lastErr)
		p.log.Warn("Retrying provider call",
			"kind", lastErr.Kind,
			"status", lastErr.StatusCode,
			"attempt", attempt+1,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, classify(p.name, ctx.Err())
		case <-timer.C:
		}
	}

	p.limiter.RecordFailure()
	p.log.Error("Provider call failed after retries",
		"kind", lastErr.Kind,
		"estimated_tokens", estimate,
		"error", lastErr.Message)
	return nil, lastErr
}

// retryDelay advances the backoff schedule matching the error class.
// Delays follow base*m^n with class-specific multipliers, capped at
// maxRetryDelay.
func (p *HTTPProvider) retryDelay(schedules map[ErrorKind]backoff.BackOff, e *Error) time.Duration {
	key := e.Kind
	if e.StatusCode == http.StatusBadGateway || e.StatusCode == http.StatusServiceUnavailable {
		key = ErrorKind(fmt.Sprintf("%s_%d", e.Kind, e.StatusCode))
	}

	sched, ok := schedules[key]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = baseRetryDelay
		b.RandomizationFactor = 0
		b.MaxInterval = maxRetryDelay
		b.MaxElapsedTime = 0
		switch {
		case e.StatusCode == http.StatusBadGateway:
			b.Multiplier = 4
		case e.StatusCode == http.StatusServiceUnavailable:
			b.Multiplier = 5
		case e.Kind == KindTimeout:
			b.InitialInterval = baseRetryDelay * 3 / 2
			b.Multiplier = 2
		default:
			b.Multiplier = 2
		}
		b.Reset()
		sched = b
		schedules[key] = b
	}

	delay := sched.NextBackOff()
	if delay < 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// post issues one HTTP POST and classifies the outcome.
func (p *HTTPProvider) post(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: KindValidation, Message: err.Error(), Err: err}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: KindValidation, Message: err.Error(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: KindTimeout, Message: err.Error(), Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Provider: p.name, Kind: KindTimeout, Message: err.Error(), Err: err}
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
		return p.parseSuccess(body, time.Since(start))
	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, &Error{Provider: p.name, Kind: KindAuth, StatusCode: httpResp.StatusCode, Message: serverMessage(body)}
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Provider: p.name, Kind: KindRateLimit, StatusCode: httpResp.StatusCode, Message: serverMessage(body)}
	case httpResp.StatusCode >= 500:
		return nil, &Error{Provider: p.name, Kind: KindServer, StatusCode: httpResp.StatusCode, Message: serverMessage(body)}
	default:
		return nil, &Error{Provider: p.name, Kind: KindAPI, StatusCode: httpResp.StatusCode, Message: serverMessage(body)}
	}
}

func (p *HTTPProvider) parseSuccess(body []byte, elapsed time.Duration) (*ChatResponse, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Provider: p.name, Kind: KindAPI, Message: fmt.Sprintf("malformed response: %v", err), Err: err}
	}
	if len(wire.Choices) == 0 {
		return nil, &Error{Provider: p.name, Kind: KindAPI, Message: "response has no choices"}
	}

	return &ChatResponse{
		Content:      wire.Choices[0].Message.Content,
		Model:        wire.Model,
		Usage:        wire.Usage,
		FinishReason: wire.Choices[0].FinishReason,
		Provider:     p.name,
		ResponseTime: elapsed,
	}, nil
}

// ValidateAPIKey issues a minimal probe request. A 401 marks the key
// invalid; any other outcome (including rate limiting) passes.
func (p *HTTPProvider) ValidateAPIKey(ctx context.Context) error {
	if p.apiKey == "" {
		return &Error{Provider: p.name, Kind: KindAuth, Message: "no API key configured"}
	}
	if len(p.cfg.Models) == 0 {
		return &Error{Provider: p.name, Kind: KindValidation, Message: "no models configured"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	one := 1
	_, err := p.post(probeCtx, &ChatRequest{
		Model:     p.cfg.Models[0],
		Messages:  []ChatMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens: &one,
	})
	var perr *Error
	if errors.As(err, &perr) && perr.Kind == KindAuth {
		return perr
	}
	return nil
}

// Close releases idle transport connections.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func serverMessage(body []byte) string {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != nil && wire.Error.Message != "" {
		return wire.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
