package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxytools/chatai/internal/models"
)

func TestClient_Do(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-user", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "http://localhost:3000", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "ChatAI", r.Header.Get("X-Title"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
	}))
	defer server.Close()

	client := NewClient(Endpoint(server.URL+"/api/v1/"), "sk-user", time.Second,
		WithHeader("HTTP-Referer", "http://localhost:3000"),
		WithHeader("X-Title", "ChatAI"),
	)

	req := NewRequest("openai/gpt-4o", []models.ChatMessage{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there"},
		{Role: models.RoleUser, Content: "How are you?"},
	})
	body, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	reply, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Text)

	assert.Equal(t, "openai/gpt-4o", got["model"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, map[string]any{"role": "assistant", "content": "Hi there"}, msgs[1])
}

func TestClient_NoAuthorizationWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second).Do(context.Background(), NewRequest("m", nil))
	require.NoError(t, err)
}

func TestClient_StatusError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "openai error", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key","type":"auth"}}`, message: "bad key"},
		{name: "proxy error", status: http.StatusInternalServerError, body: `{"error":"upstream down"}`, message: "upstream down"},
		{name: "plain text", status: http.StatusBadGateway, body: "gateway\n", message: "gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "k", time.Second).Do(context.Background(), NewRequest("m", nil))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstream)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.message, statusErr.Message)
			assert.Equal(t, tt.body, statusErr.Body)
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "", time.Second).Do(context.Background(), NewRequest("m", nil))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(server.URL, "", 50*time.Millisecond).Do(context.Background(), NewRequest("m", nil))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClient_WithAPIKeyCopies(t *testing.T) {
	base := NewClient("http://example.invalid", "", time.Second)
	keyed := base.WithAPIKey("sk")
	assert.Equal(t, "", base.apiKey)
	assert.Equal(t, "sk", keyed.apiKey)
}
