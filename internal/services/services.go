package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/auth"
	"github.com/fluxytools/chatai/internal/chat"
	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/config"
	"github.com/fluxytools/chatai/internal/credentials"
	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/proxy"
	"github.com/fluxytools/chatai/internal/repository"
	"github.com/fluxytools/chatai/internal/sessions"
)

const reloadTimeout = 5 * time.Second

// Services holds all service instances of one front end
type Services struct {
	// Primary controller - every send goes through it
	Chat *chat.Controller

	Auth        *auth.Service
	Credentials *credentials.Store
	Sessions    *sessions.Store
	Hub         *notify.Hub

	// Proxy is nil when the free model is reached through a remote proxy
	Proxy *proxy.Service

	Logger logrus.FieldLogger
}

type options struct {
	remoteProxy string
	proxyClient *completion.Client
}

// Option configures NewServices
type Option func(*options)

// WithRemoteProxy sends free-model requests to a proxy endpoint at url
// instead of running the proxy in process.
func WithRemoteProxy(url string) Option {
	return func(o *options) {
		o.remoteProxy = url
	}
}

// NewServices loads the persisted state from repo and wires every service
func NewServices(ctx context.Context, cfg *config.Config, repo repository.KeyValueRepository, hub *notify.Hub, logger logrus.FieldLogger, opts ...Option) (*Services, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	creds, err := credentials.Load(ctx, repo, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	store, err := sessions.Load(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	authService, err := auth.NewService(ctx, repo, cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	endpoint := completion.Endpoint(cfg.Upstream.BaseURL)
	external := completion.NewClient(endpoint, "", cfg.Upstream.Timeout,
		completion.WithHeader("HTTP-Referer", cfg.Upstream.Referer),
		completion.WithHeader("X-Title", cfg.Upstream.Title),
	)

	svc := &Services{
		Auth:        authService,
		Credentials: creds,
		Sessions:    store,
		Hub:         hub,
		Logger:      logger,
	}

	// Another instance changed the stored keys; reload them before the
	// controller and the model pickers see the event.
	hub.OnDeliver(svc.reloadCredentials)

	var proxyTransport chat.Transport
	if o.remoteProxy != "" {
		logger.WithField("url", o.remoteProxy).Info("Using remote proxy for the free model")
		proxyTransport = completion.NewClient(o.remoteProxy, "", cfg.Upstream.Timeout)
	} else {
		if cfg.Upstream.APIKey == "" {
			logger.Warn("OPENROUTER_API_KEY is not set, free model requests will be rejected upstream")
		}
		upstream := completion.NewClient(endpoint, cfg.Upstream.APIKey, cfg.Upstream.Timeout)
		breaker := proxy.NewBreaker(cfg.Proxy.BreakerFailures, cfg.Proxy.BreakerCooldown, logger)
		svc.Proxy, err = proxy.NewService(upstream, cfg.Proxy.Model, cfg.Proxy.Rewrites, logger, proxy.WithBreaker(breaker))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize proxy: %w", err)
		}
		proxyTransport = svc.Proxy
	}

	svc.Chat = chat.NewController(store, creds, authService, chat.Transports{
		Proxy:    proxyTransport,
		External: chat.ExternalClient(external),
	}, logger)

	return svc, nil
}

// Run starts the background followers until ctx is done
func (s *Services) Run(ctx context.Context) {
	s.Chat.Follow(ctx, s.Hub)
}

// ApplyConfig hot-reloads the parts of cfg that can change at runtime
func (s *Services) ApplyConfig(cfg *config.Config) error {
	if s.Proxy == nil {
		return nil
	}
	if err := s.Proxy.SetRules(cfg.Proxy.Rewrites); err != nil {
		return fmt.Errorf("failed to apply rewrite rules: %w", err)
	}
	s.Logger.WithField("rules", len(cfg.Proxy.Rewrites)).Info("Rewrite rules reloaded")
	return nil
}

// SignOut removes the identity and its credentials
func (s *Services) SignOut(ctx context.Context) error {
	if err := s.Auth.Logout(ctx); err != nil {
		return err
	}
	if err := s.Credentials.Clear(ctx); err != nil {
		return err
	}
	s.Chat.RevalidateModel()
	return nil
}

// Login signs in. When the login replaces a different signed-in identity,
// the previous user's API keys are removed and no chat stays selected.
func (s *Services) Login(ctx context.Context, email, name, password string) (*models.User, string, error) {
	previous, hadUser := s.Auth.CurrentUser()

	user, token, err := s.Auth.Login(ctx, email, name, password)
	if err != nil {
		return nil, "", err
	}
	if !hadUser || previous.ID == user.ID {
		return user, token, nil
	}

	s.Logger.WithField("email", user.Email).Info("Signed-in identity replaced, removing previous credentials")
	if err := s.Credentials.Clear(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to clear previous credentials: %w", err)
	}
	s.Sessions.Deselect()
	s.Chat.RevalidateModel()
	return user, token, nil
}

func (s *Services) reloadCredentials(evt notify.Event) {
	if evt.Topic != notify.TopicCredentialsChanged {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := s.Credentials.Reload(ctx); err != nil {
		s.Logger.WithError(err).Error("Failed to reload credentials changed by another instance")
	}
}
