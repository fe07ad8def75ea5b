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
)

func TestOpenAIClient_Complete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  From notes.txt: 42.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/openai/v1/", APIKey: "gsk-test"})
	answer, err := c.Complete(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "From notes.txt: 42.", answer)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, DefaultTemperature, got.Temperature)
	assert.Equal(t, DefaultTopP, got.TopP)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "what is the answer?", got.Messages[0].Content)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"invalid api key","type":"auth"}}`, "invalid api key"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"non-json", http.StatusBadGateway, `upstream down`, "502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := NewOpenAIClient(Config{BaseURL: srv.URL}).Complete(context.Background(), "p")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpenAIClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	_, err := NewOpenAIClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}).Complete(context.Background(), "p")
	assert.Error(t, err)
}
