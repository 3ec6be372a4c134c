package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("http://placeholder", "test-key", "test-model", 10*time.Second, zap.NewNop())
	client.SetBaseURL(server.URL)
	return client, server
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestChatSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		chatReply(t, w, "hello back")
	})

	reply, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)
}

func TestChatSerializesOptions(t *testing.T) {
	var captured map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		chatReply(t, w, "{}")
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}},
		WithTemperature(0),
		WithMaxTokens(4096),
		WithJSONResponse(),
		WithModel("override-model"),
	)
	require.NoError(t, err)

	assert.Equal(t, "override-model", captured["model"])
	assert.Equal(t, float64(0), captured["temperature"])
	assert.Equal(t, float64(4096), captured["max_tokens"])
	format := captured["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])
}

func TestChatDefaultsOmitOptionalFields(t *testing.T) {
	var captured map[string]interface{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		chatReply(t, w, "ok")
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.NoError(t, err)

	assert.Equal(t, "test-model", captured["model"])
	assert.Equal(t, 0.7, captured["temperature"])
	assert.NotContains(t, captured, "max_tokens")
	assert.NotContains(t, captured, "response_format")
}

func TestChatAPIErrorObject(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`))
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestChatNon200Status(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestChatNoChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	})

	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestChatCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var requests int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	// The breaker trips after more than 5 consecutive failures.
	for i := 0; i < 6; i++ {
		_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
		require.Error(t, err)
	}
	assert.Equal(t, 6, requests)

	// Once open, calls fail fast without reaching the server.
	_, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}})
	require.Error(t, err)
	assert.Equal(t, 6, requests)
	assert.False(t, client.IsHealthy(context.Background()))
}

func TestIsHealthy(t *testing.T) {
	var status int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(status)
	})

	status = http.StatusOK
	assert.True(t, client.IsHealthy(context.Background()))

	status = http.StatusServiceUnavailable
	assert.False(t, client.IsHealthy(context.Background()))
}
