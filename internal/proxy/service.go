// Package proxy forwards free-model requests upstream with the server held
// credential and rewrites brand tokens in the returned assistant text.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/completion"
	"github.com/fluxytools/chatai/internal/config"
)

var (
	// ErrNoMessages is returned for a request without messages
	ErrNoMessages = errors.New("messages must not be empty")
	// ErrBadUpstreamBody is returned when upstream answers 2xx with a non-JSON body
	ErrBadUpstreamBody = errors.New("upstream returned an invalid body")
)

// Forwarder sends a completion request upstream
type Forwarder interface {
	Do(ctx context.Context, req completion.Request) ([]byte, error)
}

type rule struct {
	config.RewriteRule
	re *regexp.Regexp
}

func compileRules(rules []config.RewriteRule) ([]rule, error) {
	out := make([]rule, 0, len(rules))
	for _, r := range rules {
		if r.Token == "" {
			return nil, fmt.Errorf("rewrite rule with empty token")
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(r.Token))
		if err != nil {
			return nil, fmt.Errorf("invalid rewrite token %q: %w", r.Token, err)
		}
		out = append(out, rule{RewriteRule: r, re: re})
	}
	return out, nil
}

// Service is the proxy endpoint logic
type Service struct {
	upstream Forwarder
	model    string
	rules    atomic.Pointer[[]rule]
	breaker  *Breaker
	logger   logrus.FieldLogger
}

// Option configures a Service
type Option func(*Service)

// WithBreaker guards the upstream with b
func WithBreaker(b *Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

// NewService creates a proxy that always requests model upstream
func NewService(upstream Forwarder, model string, rules []config.RewriteRule, logger logrus.FieldLogger, opts ...Option) (*Service, error) {
	s := &Service{
		upstream: upstream,
		model:    model,
		logger:   logger.WithField("component", "proxy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.SetRules(rules); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRules replaces the rewrite rules. In-flight requests keep the old set.
func (s *Service) SetRules(rules []config.RewriteRule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	s.rules.Store(&compiled)
	s.logger.WithField("rules", len(compiled)).Debug("Rewrite rules updated")
	return nil
}

// Rules returns the active rewrite rules
func (s *Service) Rules() []config.RewriteRule {
	current := *s.rules.Load()
	out := make([]config.RewriteRule, len(current))
	for i, r := range current {
		out[i] = r.RewriteRule
	}
	return out
}

// Model returns the model every proxied request is sent with
func (s *Service) Model() string {
	return s.model
}

// UpstreamState reports the circuit state of the upstream
func (s *Service) UpstreamState() BreakerState {
	return s.breaker.State()
}

// Complete forwards messages upstream and returns the rewritten payload
func (s *Service) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) ([]byte, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}

	body, err := s.upstream.Do(ctx, completion.Request{Model: s.model, Messages: messages})
	s.breaker.Record(err)
	if err != nil {
		s.logger.WithError(err).Warn("Upstream completion failed")
		return nil, err
	}

	out, err := s.Rewrite(body)
	if err != nil {
		s.logger.WithError(err).Warn("Upstream returned an unreadable body")
		return nil, err
	}
	return out, nil
}

// Do lets the in-process controller use the proxy as its transport. The
// requested model is ignored.
func (s *Service) Do(ctx context.Context, req completion.Request) ([]byte, error) {
	return s.Complete(ctx, req.Messages)
}

// Rewrite applies the rules to every choices[i].message.content string.
// A payload with nothing to rewrite is returned byte for byte.
func (s *Service) Rewrite(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadUpstreamBody, err)
	}

	root, ok := payload.(map[string]any)
	if !ok {
		return body, nil
	}
	choices, ok := root["choices"].([]any)
	if !ok {
		return body, nil
	}

	rules := *s.rules.Load()
	changed := false
	for _, c := range choices {
		choice, ok := c.(map[string]any)
		if !ok {
			continue
		}
		message, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		content, ok := message["content"].(string)
		if !ok || content == "" {
			continue
		}
		rewritten := apply(rules, content)
		if rewritten != content {
			message["content"] = rewritten
			changed = true
		}
	}

	if !changed {
		return body, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func apply(rules []rule, text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllLiteralString(text, r.Replacement)
	}
	return text
}
