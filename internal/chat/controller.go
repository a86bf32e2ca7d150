// Package chat owns the application state of one front end and runs the
// send-message state machine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/catalog"
	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/routing"
	"github.com/fluxytools/chatai/internal/sessions"
)

// ErrorReplyText is appended as the assistant reply when a turn fails
const ErrorReplyText = "Sorry, there was an error processing your request. Please try again."

var (
	// ErrUnauthenticated is returned when no user is signed in
	ErrUnauthenticated = errors.New("sign in to send messages")
	// ErrEmptyMessage is returned for blank input
	ErrEmptyMessage = errors.New("message must not be empty")
	// ErrBusy is returned while a previous send is still in flight
	ErrBusy = errors.New("a message is already being sent")
	// ErrCredentialRequired is returned when selecting a model without an API key
	ErrCredentialRequired = errors.New("add an api key for this model in your profile")
	// ErrUnknownModel is returned for ids outside the catalog
	ErrUnknownModel = errors.New("unknown model")
)

// State is the phase of the send state machine
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transport sends one completion request and returns the raw success body
type Transport interface {
	Do(ctx context.Context, req completion.Request) ([]byte, error)
}

// Transports are the two destinations a route can resolve to
type Transports struct {
	Proxy Transport
	// External returns a transport authenticated with the user's key
	External func(apiKey string) Transport
}

// ExternalClient adapts a completion client to Transports.External
func ExternalClient(base *completion.Client) func(apiKey string) Transport {
	return func(apiKey string) Transport {
		return base.WithAPIKey(apiKey)
	}
}

// UserSource reports the signed-in user
type UserSource interface {
	CurrentUser() (models.User, bool)
}

// Outcome is the result of one Send
type Outcome struct {
	Session models.Session `json:"session"`
	Reply   models.Message `json:"reply"`
	State   State          `json:"state"`
	// ModelReset is set when the selected model had no credential and the
	// selection fell back to the free model.
	ModelReset bool   `json:"modelReset"`
	Model      string `json:"model"`
}

// Controller is the application state of one front end
type Controller struct {
	mu       sync.Mutex
	state    State
	selected string

	sessions   *sessions.Store
	creds      credentials.Lookup
	users      UserSource
	transports Transports
	logger     logrus.FieldLogger
}

// NewController creates a controller with the free model selected
func NewController(store *sessions.Store, creds credentials.Lookup, users UserSource, transports Transports, logger logrus.FieldLogger) *Controller {
	return &Controller{
		state:      StateIdle,
		selected:   catalog.FreeModelID,
		sessions:   store,
		creds:      creds,
		users:      users,
		transports: transports,
		logger:     logger.WithField("component", "chat"),
	}
}

// Sessions returns the session store driven by this controller
func (c *Controller) Sessions() *sessions.Store {
	return c.sessions
}

// State returns the current phase
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a send is in flight
func (c *Controller) Loading() bool {
	return c.State() == StateSending
}

// SelectedModel returns the model id new messages are sent with
func (c *Controller) SelectedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SelectModel changes the selected model. A model without a credential
// resets the selection to the free model and returns ErrCredentialRequired.
func (c *Controller) SelectModel(modelID string) error {
	if _, ok := catalog.Find(modelID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !catalog.IsUsable(modelID, c.creds) {
		c.selected = catalog.FreeModelID
		return ErrCredentialRequired
	}
	c.selected = modelID
	return nil
}

// RevalidateModel resets the selection to the free model when its
// credential has gone. It reports whether a reset happened.
func (c *Controller) RevalidateModel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if catalog.IsUsable(c.selected, c.creds) {
		return false
	}
	c.logger.WithField("model", c.selected).Info("Selected model lost its credential, using the free model")
	c.selected = catalog.FreeModelID
	return true
}

// Follow revalidates the selection on every credential change until ctx
// is done.
func (c *Controller) Follow(ctx context.Context, hub *notify.Hub) {
	sub := hub.Subscribe(notify.TopicCredentialsChanged)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			c.RevalidateModel()
		}
	}
}

// Send runs one turn: append the user message, call the routed model and
// append its reply, or the error reply when the call fails.
func (c *Controller) Send(ctx context.Context, content string) (Outcome, error) {
	content = strings.TrimSpace(content)

	if _, ok := c.users.CurrentUser(); !ok {
		return Outcome{State: StateIdle}, ErrUnauthenticated
	}
	if content == "" {
		return Outcome{State: StateIdle}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state == StateSending {
		c.mu.Unlock()
		return Outcome{State: StateSending}, ErrBusy
	}
	c.state = StateSending
	requested := c.selected
	c.mu.Unlock()

	defer c.setState(StateIdle)

	sess, err := c.targetSession(ctx)
	if err != nil {
		return Outcome{State: StateFailed}, err
	}

	sess, err = c.sessions.Append(ctx, sess.ID, models.NewMessage(models.RoleUser, content))
	if err != nil {
		c.logger.WithError(err).Error("Failed to save user message")
		return Outcome{Session: sess, State: StateFailed}, err
	}

	route, err := routing.Resolve(requested, c.creds)
	outcome := Outcome{Model: route.Model}
	if route.Substituted {
		c.resetSelection(requested)
		outcome.ModelReset = true
	}

	// Stays Sending until the reply is stored; the deferred reset is the
	// only transition out of it.
	text, state := c.exchange(ctx, route, err, sess.History())

	reply := models.NewMessage(models.RoleAssistant, text)
	sess, err = c.sessions.Append(ctx, sess.ID, reply)
	if err != nil {
		c.logger.WithError(err).Error("Failed to save assistant message")
		return Outcome{State: StateFailed}, err
	}

	outcome.Session = sess
	outcome.Reply = reply
	outcome.State = state
	return outcome, nil
}

// exchange performs the network round trip for route and returns the
// reply text with the terminal state
func (c *Controller) exchange(ctx context.Context, route routing.Route, routeErr error, history []models.ChatMessage) (string, State) {
	log := c.logger.WithField("model", route.Model).WithField("target", route.Target.String())

	if routeErr != nil {
		log.WithError(routeErr).Warn("No usable route")
		return ErrorReplyText, StateFailed
	}

	var transport Transport
	switch route.Target {
	case routing.TargetExternal:
		transport = c.transports.External(route.APIKey)
	default:
		transport = c.transports.Proxy
	}

	body, err := transport.Do(ctx, completion.NewRequest(route.Model, history))
	if err != nil {
		log.WithError(err).Warn("Completion request failed")
		return ErrorReplyText, StateFailed
	}

	reply, err := completion.Parse(body)
	if err != nil {
		log.WithError(err).Warn("Completion response could not be read")
		return ErrorReplyText, StateFailed
	}
	if reply.Kind == completion.KindUnrecognized {
		log.Warn("Unexpected completion response shape")
	}

	return reply.Text, StateSucceeded
}

func (c *Controller) targetSession(ctx context.Context) (models.Session, error) {
	if id := c.sessions.Current(); id != "" {
		sess, err := c.sessions.Get(id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			return models.Session{}, err
		}
	}
	return c.sessions.Create(ctx)
}

func (c *Controller) resetSelection(requested string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == requested {
		c.selected = catalog.FreeModelID
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
