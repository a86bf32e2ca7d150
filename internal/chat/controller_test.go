package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/logging"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/repository"
	"github.com/fluxytools/chatai/internal/sessions"
)

type fakeUsers struct {
	signedIn bool
}

func (f *fakeUsers) CurrentUser() (models.User, bool) {
	if !f.signedIn {
		return models.User{}, false
	}
	return models.User{ID: "u1", Email: "a@b.c"}, true
}

type fakeTransport struct {
	mu    sync.Mutex
	body  string
	err   error
	calls []completion.Request
	keys  []string
	block chan struct{}
}

func (f *fakeTransport) Do(ctx context.Context, req completion.Request) ([]byte, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

type harness struct {
	ctrl     *Controller
	creds    *credentials.Store
	store    *sessions.Store
	users    *fakeUsers
	proxy    *fakeTransport
	external *fakeTransport
	repo     *repository.MemoryRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := repository.NewMemoryRepository()
	return newHarnessOn(t, mem, mem)
}

// newHarnessOn stores through repo; mem is the memory repository behind it
func newHarnessOn(t *testing.T, repo repository.KeyValueRepository, mem *repository.MemoryRepository) *harness {
	t.Helper()
	ctx := context.Background()

	creds, err := credentials.Load(ctx, repo, nil)
	require.NoError(t, err)
	store, err := sessions.Load(ctx, repo)
	require.NoError(t, err)

	h := &harness{
		creds:    creds,
		store:    store,
		users:    &fakeUsers{signedIn: true},
		proxy:    &fakeTransport{body: `{"choices":[{"message":{"content":"Hi from proxy"}}]}`},
		external: &fakeTransport{body: `{"choices":[{"message":{"content":"Hi from external"}}]}`},
		repo:     mem,
	}
	h.ctrl = NewController(store, creds, h.users, Transports{
		Proxy: h.proxy,
		External: func(apiKey string) Transport {
			h.external.mu.Lock()
			h.external.keys = append(h.external.keys, apiKey)
			h.external.mu.Unlock()
			return h.external
		},
	}, logging.Discard())
	return h
}

func TestSend_HelloInNewSession(t *testing.T) {
	h := newHarness(t)

	out, err := h.ctrl.Send(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, "Hello", out.Session.Title)
	require.Len(t, out.Session.Messages, 2)
	assert.Equal(t, models.RoleUser, out.Session.Messages[0].Role)
	assert.Equal(t, "Hello", out.Session.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, out.Session.Messages[1].Role)
	assert.Equal(t, "Hi from proxy", out.Session.Messages[1].Content)
	assert.Equal(t, out.Reply, out.Session.Messages[1])

	// The new session is selected and persisted
	assert.Equal(t, out.Session.ID, h.store.Current())
	reloaded, err := sessions.Load(context.Background(), h.repo)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 1)
	assert.Len(t, reloaded.List()[0].Messages, 2)

	assert.False(t, h.ctrl.Loading())
	assert.Equal(t, StateIdle, h.ctrl.State())

	require.Len(t, h.proxy.calls, 1)
	assert.Equal(t, catalog.FreeModelID, h.proxy.calls[0].Model)
	assert.Empty(t, h.external.calls)
}

func TestSend_FiftyCharacterTitle(t *testing.T) {
	h := newHarness(t)
	msg := strings.Repeat("abcde", 10)

	out, err := h.ctrl.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg[:30]+"...", out.Session.Title)

	out, err = h.ctrl.Send(context.Background(), "second message")
	require.NoError(t, err)
	assert.Equal(t, msg[:30]+"...", out.Session.Title)
	assert.Len(t, out.Session.Messages, 4)
}

func TestSend_HistoryIsRoleAndContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.Send(ctx, "first")
	require.NoError(t, err)
	_, err = h.ctrl.Send(ctx, "second")
	require.NoError(t, err)

	require.Len(t, h.proxy.calls, 2)
	msgs := h.proxy.calls[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "Hi from proxy", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
}

func TestSend_UsesSelectedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.store.Create(ctx)
	require.NoError(t, err)
	_, err = h.store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, h.store.Select(a.ID))

	out, err := h.ctrl.Send(ctx, "into a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, out.Session.ID)
	assert.Len(t, h.store.List(), 2)
}

func TestSend_ExternalWithCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.creds.Set(ctx, "openai/gpt-4o", "sk-user"))
	require.NoError(t, h.ctrl.SelectModel("openai/gpt-4o"))

	out, err := h.ctrl.Send(ctx, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi from external", out.Reply.Content)
	assert.False(t, out.ModelReset)
	assert.Equal(t, "openai/gpt-4o", out.Model)

	require.Len(t, h.external.calls, 1)
	assert.Equal(t, "openai/gpt-4o", h.external.calls[0].Model)
	assert.Equal(t, []string{"sk-user"}, h.external.keys)
	assert.Empty(t, h.proxy.calls)
}

func TestSend_PaidModelWithoutCredentialFallsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.creds.Set(ctx, "openai/gpt-4o", "sk-user"))
	require.NoError(t, h.ctrl.SelectModel("openai/gpt-4o"))
	require.NoError(t, h.creds.Remove(ctx, "openai/gpt-4o"))

	out, err := h.ctrl.Send(ctx, "Hello")
	require.NoError(t, err)

	assert.True(t, out.ModelReset)
	assert.Equal(t, StateSucceeded, out.State)
	assert.Equal(t, catalog.FreeModelID, h.ctrl.SelectedModel())
	require.Len(t, h.proxy.calls, 1)
	assert.Equal(t, catalog.FreeModelID, h.proxy.calls[0].Model)
	assert.Empty(t, h.external.calls)
}

func TestSend_UpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.proxy.err = &completion.StatusError{StatusCode: 500}

	out, err := h.ctrl.Send(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, out.State)
	require.Len(t, out.Session.Messages, 2)
	assert.Equal(t, ErrorReplyText, out.Session.Messages[1].Content)
	assert.Equal(t, models.RoleAssistant, out.Session.Messages[1].Role)
	assert.False(t, h.ctrl.Loading())
	assert.Len(t, h.proxy.calls, 1, "no automatic retry")
}

func TestSend_ReplyVariants(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		text  string
		state State
	}{
		{name: "text field", body: `{"text":"plain"}`, text: "plain", state: StateSucceeded},
		{name: "unknown shape", body: `{"foo":1}`, text: completion.NoResponseText, state: StateSucceeded},
		{name: "not json", body: `oops`, text: ErrorReplyText, state: StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.proxy.body = tt.body

			out, err := h.ctrl.Send(context.Background(), "Hello")
			require.NoError(t, err)
			assert.Equal(t, tt.text, out.Reply.Content)
			assert.Equal(t, tt.state, out.State)
		})
	}
}

func TestSend_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ctrl.Send(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	h.users.signedIn = false
	_, err = h.ctrl.Send(ctx, "Hello")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Empty(t, h.store.List())
	assert.Empty(t, h.proxy.calls)
}

func TestSend_BusyWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.proxy.block = make(chan struct{})

	done := make(chan Outcome)
	go func() {
		out, _ := h.ctrl.Send(context.Background(), "first")
		done <- out
	}()

	require.Eventually(t, h.ctrl.Loading, time.Second, 5*time.Millisecond)

	_, err := h.ctrl.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(h.proxy.block)
	out := <-done
	assert.Equal(t, StateSucceeded, out.State)
	assert.False(t, h.ctrl.Loading())
	assert.Len(t, out.Session.Messages, 2)
}

func TestSelectModel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.ctrl.SelectModel("anthropic/claude-3.5-sonnet")
	assert.ErrorIs(t, err, ErrCredentialRequired)
	assert.Equal(t, catalog.FreeModelID, h.ctrl.SelectedModel())

	assert.ErrorIs(t, h.ctrl.SelectModel("nope/nope"), ErrUnknownModel)

	require.NoError(t, h.creds.Set(ctx, "anthropic/claude-3.5-sonnet", "k"))
	require.NoError(t, h.ctrl.SelectModel("anthropic/claude-3.5-sonnet"))
	assert.Equal(t, "anthropic/claude-3.5-sonnet", h.ctrl.SelectedModel())
}

func TestFollow_ResetsSelectionWhenKeyRemoved(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryRepository()
	hub := notify.NewHub()
	creds, err := credentials.Load(ctx, repo, hub)
	require.NoError(t, err)
	store, err := sessions.Load(ctx, repo)
	require.NoError(t, err)

	ctrl := NewController(store, creds, &fakeUsers{signedIn: true}, Transports{}, logging.Discard())
	require.NoError(t, creds.Set(ctx, "openai/gpt-4o", "k"))
	require.NoError(t, ctrl.SelectModel("openai/gpt-4o"))

	go ctrl.Follow(ctx, hub)

	require.NoError(t, creds.Remove(ctx, "openai/gpt-4o"))
	// Follow may subscribe after Remove published, so keep nudging it
	assert.Eventually(t, func() bool {
		hub.Publish(notify.Event{Topic: notify.TopicCredentialsChanged})
		return ctrl.SelectedModel() == catalog.FreeModelID
	}, time.Second, 5*time.Millisecond)
}

// gatedRepository blocks the n-th write of the session collection until
// release is closed
type gatedRepository struct {
	*repository.MemoryRepository

	mu      sync.Mutex
	writes  int
	gateAt  int
	reached chan struct{}
	release chan struct{}
}

func (g *gatedRepository) Set(ctx context.Context, key string, value []byte) error {
	if key == repository.KeyChatSessions {
		g.mu.Lock()
		g.writes++
		hit := g.writes == g.gateAt
		g.mu.Unlock()
		if hit {
			close(g.reached)
			<-g.release
		}
	}
	return g.MemoryRepository.Set(ctx, key, value)
}

func TestSend_StaysSendingUntilReplyIsStored(t *testing.T) {
	mem := repository.NewMemoryRepository()
	// create, user message, reply
	gated := &gatedRepository{
		MemoryRepository: mem,
		gateAt:           3,
		reached:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	h := newHarnessOn(t, gated, mem)

	done := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Send(context.Background(), "Hello")
		done <- err
	}()

	select {
	case <-gated.reached:
	case <-time.After(2 * time.Second):
		t.Fatal("reply write was never attempted")
	}

	assert.True(t, h.ctrl.Loading())
	assert.Equal(t, StateSending, h.ctrl.State())

	_, err := h.ctrl.Send(context.Background(), "Again")
	assert.ErrorIs(t, err, ErrBusy)

	close(gated.release)
	require.NoError(t, <-done)
	assert.False(t, h.ctrl.Loading())
	assert.Equal(t, StateIdle, h.ctrl.State())
}
