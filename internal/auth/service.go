// Package auth is the local demo login. It keeps a single identity under
// repository.KeyUser and issues JWTs for the HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluxytools/chatai/internal/models"
	"github.com/fluxytools/chatai/internal/repository"
)

var (
	// ErrInvalidCredentials is returned when the password does not match the stored identity
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidEmail is returned for a malformed email address
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrSignedOut is returned for a token whose user has logged out
	ErrSignedOut = errors.New("user is signed out")
)

// Service handles the demo login
type Service struct {
	mu     sync.RWMutex
	user   *models.User
	repo   repository.KeyValueRepository
	jwt    *JWTService
	logger logrus.FieldLogger
}

// NewService loads the stored identity. An empty jwtSecret is replaced by a
// random per-process secret.
func NewService(ctx context.Context, repo repository.KeyValueRepository, jwtSecret, issuer string, logger logrus.FieldLogger) (*Service, error) {
	logger = logger.WithField("component", "auth")
	if jwtSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		jwtSecret = secret
		logger.Warn("No JWT secret configured, tokens will not survive a restart")
	}

	s := &Service{
		repo:   repo,
		jwt:    NewJWTService(jwtSecret, issuer),
		logger: logger,
	}

	data, err := repo.Get(ctx, repository.KeyUser)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read user: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		logger.WithError(err).Warn("Stored user is unreadable, starting signed out")
		return s, nil
	}
	s.user = &user
	return s, nil
}

// CurrentUser returns the signed-in identity
func (s *Service) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// Login signs in. The first login for an email creates the identity, later
// logins with the same email must present the same password. A different
// email replaces the stored identity.
func (s *Service) Login(ctx context.Context, email, name, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidEmail
	}
	if err := ValidatePassword(password); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var user models.User
	if s.user != nil && s.user.Email == email {
		if !CheckPassword(password, s.user.PasswordHash) {
			return nil, "", ErrInvalidCredentials
		}
		user = *s.user
		if name != "" {
			user.Name = name
		}
	} else {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash password: %w", err)
		}
		user = models.User{
			ID:           models.NewID(),
			Email:        email,
			Name:         name,
			PasswordHash: hash,
			CreatedAt:    now,
		}
	}
	user.LastLoginAt = now

	if err := s.saveLocked(ctx, &user); err != nil {
		return nil, "", err
	}

	token, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.WithField("email", user.Email).Info("User signed in")
	public := user.Public()
	return &public, token, nil
}

// Logout removes the stored identity
func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, repository.KeyUser); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	s.user = nil
	s.logger.Info("User signed out")
	return nil
}

// ValidateAccessToken checks token and that its user is still signed in
func (s *Service) ValidateAccessToken(token string) (*models.UserContext, error) {
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || s.user.ID != claims.UserID {
		return nil, ErrSignedOut
	}

	return &models.UserContext{
		UserID: s.user.ID,
		Email:  s.user.Email,
		Name:   s.user.Name,
	}, nil
}

func (s *Service) saveLocked(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.repo.Set(ctx, repository.KeyUser, data); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	s.user = user
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
