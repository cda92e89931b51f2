package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/config"
	"github.com/YingxueSec/AI-Code-Sec-sub000/pkg/ratelimit"
)

func TestChatCompletionRecordsLimiterFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "backend down"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	limiter := ratelimit.New("qwen", 100, 100000)
	p := NewHTTPProvider("qwen", &config.LLMProviderConfig{
		BaseURL: server.URL,
		Models:  []string{"m1"},
	}, limiter)
	p.maxRetries = 0

	_, err := p.ChatCompletion(context.Background(), chatReq("m1"))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindServer, perr.Kind)

	// Exhausted retries surface in the limiter's stats
	assert.EqualValues(t, 1, limiter.Stats().Failures)
}

func TestChatCompletionSuccessLeavesFailuresUntouched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model": "m1", "choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}], "usage": {"total_tokens": 12}}`))
	}))
	defer server.Close()

	limiter := ratelimit.New("qwen", 100, 100000)
	p := NewHTTPProvider("qwen", &config.LLMProviderConfig{
		BaseURL: server.URL,
		Models:  []string{"m1"},
	}, limiter)

	resp, err := p.ChatCompletion(context.Background(), chatReq("m1"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Zero(t, limiter.Stats().Failures)
}
