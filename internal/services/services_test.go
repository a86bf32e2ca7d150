package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/config"
	"github.com/fluxytools/chatai/internal/logging"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/repository"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL: baseURL,
			APIKey:  "server-key",
			Timeout: time.Second,
			Referer: "http://localhost:3000",
			Title:   "ChatAI",
		},
		Proxy: config.ProxyConfig{
			Model:    catalog.FreeModelID,
			Rewrites: []config.RewriteRule{{Token: "deepseek", Replacement: "FluxyTools"}},
		},
		Auth: config.AuthConfig{JWTSecret: "secret", Issuer: "chatai"},
	}
}

func TestNewServices_InProcessProxy(t *testing.T) {
	var gotAuth, gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"choices":[{"message":{"content":"I am DeepSeek"}}]}`)
	}))
	defer upstream.Close()

	ctx := context.Background()
	svc, err := NewServices(ctx, testConfig(upstream.URL), repository.NewMemoryRepository(), notify.NewHub(), logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, svc.Proxy)

	_, _, err = svc.Auth.Login(ctx, "ada@example.com", "Ada", "secret1")
	require.NoError(t, err)

	out, err := svc.Chat.Send(ctx, "who are you")
	require.NoError(t, err)
	assert.Equal(t, "I am FluxyTools", out.Reply.Content)
	assert.Equal(t, "Bearer server-key", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
}

func TestNewServices_RemoteProxy(t *testing.T) {
	var path string
	proxyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"remote"}}]}`)
	}))
	defer proxyServer.Close()

	ctx := context.Background()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repository.NewMemoryRepository(), notify.NewHub(), logging.Discard(),
		WithRemoteProxy(proxyServer.URL+"/api/chat/free"))
	require.NoError(t, err)
	assert.Nil(t, svc.Proxy)

	_, _, err = svc.Auth.Login(ctx, "ada@example.com", "", "secret1")
	require.NoError(t, err)

	out, err := svc.Chat.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "remote", out.Reply.Content)
	assert.Equal(t, "/api/chat/free", path)
}

func TestServices_SignOutClearsCredentials(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repo, notify.NewHub(), logging.Discard())
	require.NoError(t, err)

	_, _, err = svc.Auth.Login(ctx, "ada@example.com", "", "secret1")
	require.NoError(t, err)
	require.NoError(t, svc.Credentials.Set(ctx, "openai/gpt-4o", "sk"))

	require.NoError(t, svc.SignOut(ctx))

	_, ok := svc.Auth.CurrentUser()
	assert.False(t, ok)
	assert.Empty(t, svc.Credentials.All())
	_, err = repo.Get(ctx, repository.KeyModelAPIKeys)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestServices_ApplyConfig(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repository.NewMemoryRepository(), notify.NewHub(), logging.Discard())
	require.NoError(t, err)

	cfg := testConfig("http://upstream.invalid")
	cfg.Proxy.Rewrites = []config.RewriteRule{{Token: "acme", Replacement: "Initech"}}
	require.NoError(t, svc.ApplyConfig(cfg))
	assert.Equal(t, cfg.Proxy.Rewrites, svc.Proxy.Rules())
}

func TestServices_RemoteCredentialChangeReloadsStore(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	hub := notify.NewHub()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repo, hub, logging.Discard())
	require.NoError(t, err)

	// another instance saved a key in the shared storage
	require.NoError(t, repo.Set(ctx, repository.KeyModelAPIKeys,
		[]byte(`[{"modelId":"openai/gpt-4o","apiKey":"sk-other"}]`)))
	hub.Deliver(notify.Event{Topic: notify.TopicCredentialsChanged, Origin: "other-instance"})

	key, ok := svc.Credentials.Get("openai/gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "sk-other", key)

	// a local change keeps the key saved elsewhere
	require.NoError(t, svc.Credentials.Set(ctx, "google/gemini-pro-1.5", "sk-mine"))
	data, err := repo.Get(ctx, repository.KeyModelAPIKeys)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sk-other")
	assert.Contains(t, string(data), "sk-mine")
}

func TestServices_LoginAsDifferentUserDropsPreviousKeys(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repository.NewMemoryRepository(), notify.NewHub(), logging.Discard())
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ada@example.com", "Ada", "secret1")
	require.NoError(t, err)
	require.NoError(t, svc.Credentials.Set(ctx, "openai/gpt-4o", "sk-ada"))
	require.NoError(t, svc.Chat.SelectModel("openai/gpt-4o"))
	sess, err := svc.Sessions.Create(ctx)
	require.NoError(t, err)

	// same user again keeps everything
	_, _, err = svc.Login(ctx, "ada@example.com", "", "secret1")
	require.NoError(t, err)
	_, ok := svc.Credentials.Get("openai/gpt-4o")
	assert.True(t, ok)
	assert.Equal(t, sess.ID, svc.Sessions.Current())

	user, _, err := svc.Login(ctx, "mallory@example.com", "", "secret2")
	require.NoError(t, err)
	assert.Equal(t, "mallory@example.com", user.Email)

	_, ok = svc.Credentials.Get("openai/gpt-4o")
	assert.False(t, ok)
	assert.Empty(t, svc.Sessions.Current())
	assert.Equal(t, catalog.FreeModelID, svc.Chat.SelectedModel())
}

func TestServices_LoginWrongPasswordKeepsKeys(t *testing.T) {
	ctx := context.Background()
	svc, err := NewServices(ctx, testConfig("http://upstream.invalid"), repository.NewMemoryRepository(), notify.NewHub(), logging.Discard())
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ada@example.com", "", "secret1")
	require.NoError(t, err)
	require.NoError(t, svc.Credentials.Set(ctx, "openai/gpt-4o", "sk-ada"))

	_, _, err = svc.Login(ctx, "ada@example.com", "", "wrong-password")
	require.Error(t, err)
	_, ok := svc.Credentials.Get("openai/gpt-4o")
	assert.True(t, ok)
}
