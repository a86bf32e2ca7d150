// Package credentials keeps the per-model API keys supplied by the user.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/notify"
	"github.com/fluxytools/chatai/internal/repository"
)

var (
	// ErrEmptyAPIKey is returned when saving a blank key
	ErrEmptyAPIKey = errors.New("api key must not be empty")
	// ErrEmptyModelID is returned when the model id is blank
	ErrEmptyModelID = errors.New("model id must not be empty")
)

// Lookup is the read side of the store, used by routing and the model registry
type Lookup interface {
	Get(modelID string) (string, bool)
}

// Store maps model ids to API keys, persisted under repository.KeyModelAPIKeys.
// Every mutation persists the whole mapping and publishes
// notify.TopicCredentialsChanged.
type Store struct {
	mu   sync.RWMutex
	keys []models.ModelAPIKey
	repo repository.KeyValueRepository
	pub  notify.Publisher
}

// Load reads the stored mapping. A missing entry yields an empty store.
func Load(ctx context.Context, repo repository.KeyValueRepository, pub notify.Publisher) (*Store, error) {
	s := &Store{repo: repo, pub: pub}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory mapping with the persisted one
func (s *Store) Reload(ctx context.Context) error {
	data, err := s.repo.Get(ctx, repository.KeyModelAPIKeys)
	if errors.Is(err, repository.ErrNotFound) {
		s.mu.Lock()
		s.keys = nil
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	var keys []models.ModelAPIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}

	s.mu.Lock()
	s.keys = dedupe(keys)
	s.mu.Unlock()
	return nil
}

// dedupe keeps the last entry for every model id, at the position of the first
func dedupe(keys []models.ModelAPIKey) []models.ModelAPIKey {
	out := make([]models.ModelAPIKey, 0, len(keys))
	index := make(map[string]int, len(keys))
	for _, k := range keys {
		if i, ok := index[k.ModelID]; ok {
			out[i] = k
			continue
		}
		index[k.ModelID] = len(out)
		out = append(out, k)
	}
	return out
}

// Get returns the key stored for modelID
func (s *Store) Get(modelID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.ModelID == modelID {
			return k.APIKey, true
		}
	}
	return "", false
}

// All returns a copy of every stored credential
func (s *Store) All() []models.ModelAPIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ModelAPIKey(nil), s.keys...)
}

// Set stores apiKey for modelID after trimming whitespace
func (s *Store) Set(ctx context.Context, modelID, apiKey string) error {
	modelID = strings.TrimSpace(modelID)
	apiKey = strings.TrimSpace(apiKey)
	if modelID == "" {
		return ErrEmptyModelID
	}
	if apiKey == "" {
		return ErrEmptyAPIKey
	}

	s.mu.Lock()
	updated := append([]models.ModelAPIKey(nil), s.keys...)
	found := false
	for i := range updated {
		if updated[i].ModelID == modelID {
			updated[i].APIKey = apiKey
			found = true
			break
		}
	}
	if !found {
		updated = append(updated, models.ModelAPIKey{ModelID: modelID, APIKey: apiKey})
	}
	err := s.persistLocked(ctx, updated)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.changed(modelID)
	return nil
}

// Remove deletes the key for modelID. Removing a missing key is a no-op.
func (s *Store) Remove(ctx context.Context, modelID string) error {
	s.mu.Lock()
	updated := make([]models.ModelAPIKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.ModelID != modelID {
			updated = append(updated, k)
		}
	}
	if len(updated) == len(s.keys) {
		s.mu.Unlock()
		return nil
	}
	err := s.persistLocked(ctx, updated)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.changed(modelID)
	return nil
}

// Clear removes every stored key. Signing out clears credentials.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if len(s.keys) == 0 {
		s.mu.Unlock()
		return nil
	}
	err := s.repo.Delete(ctx, repository.KeyModelAPIKeys)
	if err == nil {
		s.keys = nil
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	s.changed("")
	return nil
}

func (s *Store) persistLocked(ctx context.Context, keys []models.ModelAPIKey) error {
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.repo.Set(ctx, repository.KeyModelAPIKeys, data); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	s.keys = keys
	return nil
}

func (s *Store) changed(modelID string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(notify.Event{Topic: notify.TopicCredentialsChanged, Payload: modelID})
}

// Mask hides the middle of an API key for display
func Mask(apiKey string) string {
	r := []rune(apiKey)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}
