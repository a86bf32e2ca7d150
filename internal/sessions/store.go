// Package sessions keeps the conversation history persisted under
// repository.KeyChatSessions and tracks which session is selected.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/repository"
)

// TitleLimit is the number of characters of the first message kept in a title
const TitleLimit = 30

// ErrSessionNotFound is returned for unknown session ids
var ErrSessionNotFound = errors.New("session not found")

// Title derives a session title from its first message
func Title(content string) string {
	r := []rune(content)
	if len(r) > TitleLimit {
		return string(r[:TitleLimit]) + "..."
	}
	return content
}

// Store holds the session collection, newest first. Every mutation
// persists the full collection.
type Store struct {
	mu       sync.RWMutex
	sessions []models.Session
	current  string
	repo     repository.KeyValueRepository
}

// Load reads the persisted sessions. A missing entry yields an empty store.
func Load(ctx context.Context, repo repository.KeyValueRepository) (*Store, error) {
	s := &Store{repo: repo}

	data, err := repo.Get(ctx, repository.KeyChatSessions)
	if errors.Is(err, repository.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	sessions, err := Decode(data)
	if err != nil {
		return nil, err
	}
	s.sessions = sessions
	return s, nil
}

// Decode parses a serialized session collection
func Decode(data []byte) ([]models.Session, error) {
	var sessions []models.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []models.Message{}
		}
	}
	return sessions, nil
}

// Encode serializes a session collection
func Encode(sessions []models.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []models.Session{}
	}
	return json.Marshal(sessions)
}

// List returns copies of all sessions, newest first
func (s *Store) List() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = clone(sess)
	}
	return out
}

// Get returns a copy of the session with id
func (s *Store) Get(id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return models.Session{}, ErrSessionNotFound
	}
	return clone(s.sessions[i]), nil
}

// Current returns the selected session id, or "" when none is selected
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select makes id the current session
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return ErrSessionNotFound
	}
	s.current = id
	return nil
}

// Deselect clears the current session selection
func (s *Store) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
}

// Create prepends a new empty session and selects it
func (s *Store) Create(ctx context.Context) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := models.NewSession()
	updated := make([]models.Session, 0, len(s.sessions)+1)
	updated = append(updated, sess)
	updated = append(updated, s.sessions...)

	if err := s.persistLocked(ctx, updated); err != nil {
		return models.Session{}, err
	}
	s.current = sess.ID
	return clone(sess), nil
}

// Delete removes the session with id, clearing the selection if it was selected
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrSessionNotFound
	}

	updated := make([]models.Session, 0, len(s.sessions)-1)
	updated = append(updated, s.sessions[:i]...)
	updated = append(updated, s.sessions[i+1:]...)

	if err := s.persistLocked(ctx, updated); err != nil {
		return err
	}
	if s.current == id {
		s.current = ""
	}
	return nil
}

// Append adds msg to the session with id. The first message of a session
// sets its title.
func (s *Store) Append(ctx context.Context, id string, msg models.Message) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return models.Session{}, ErrSessionNotFound
	}

	updated := make([]models.Session, len(s.sessions))
	copy(updated, s.sessions)

	sess := clone(updated[i])
	if len(sess.Messages) == 0 {
		sess.Title = Title(msg.Content)
	}
	sess.Messages = append(sess.Messages, msg)
	updated[i] = sess

	if err := s.persistLocked(ctx, updated); err != nil {
		return models.Session{}, err
	}
	return clone(sess), nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked(ctx context.Context, sessions []models.Session) error {
	data, err := Encode(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := s.repo.Set(ctx, repository.KeyChatSessions, data); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	s.sessions = sessions
	return nil
}

func clone(sess models.Session) models.Session {
	sess.Messages = append([]models.Message{}, sess.Messages...)
	return sess
}
