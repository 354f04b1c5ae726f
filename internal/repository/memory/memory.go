// Package memory provides in-process implementations of the repository
// interfaces. They back the "memory" store driver used for local runs and
// service-level tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/projectflow/internal/domain"
	apperrors "github.com/utafrali/projectflow/pkg/errors"
)

// UserStore implements repository.UserRepository using an in-memory map.
type UserStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.User
	byEmail map[string]string
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]string),
	}
}

// Add stores u, replacing any user with the same id. Emails are indexed
// normalised.
func (s *UserStore) Add(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[u.ID]; ok {
		delete(s.byEmail, domain.NormalizeEmail(old.Email))
	}
	s.byID[u.ID] = &u
	s.byEmail[domain.NormalizeEmail(u.Email)] = u.ID
}

// GetByID returns a copy of the user with the given id.
func (s *UserStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("GetUserByID: %w", apperrors.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// GetByEmail returns a copy of the user whose email matches case-insensitively.
func (s *UserStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, fmt.Errorf("GetUserByEmail: %w", apperrors.ErrNotFound)
	}
	cp := *s.byID[id]
	return &cp, nil
}

// RefreshTokenStore implements repository.RefreshTokenRepository using
// in-memory maps. A single mutex serialises writers, which gives Rotate the
// same exactly-one-winner guarantee as the conditional UPDATE in PostgreSQL.
type RefreshTokenStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.RefreshToken
	byHash map[string]string
	newID  func() string
}

// NewRefreshTokenStore creates an empty refresh token store.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{
		byID:   make(map[string]*domain.RefreshToken),
		byHash: make(map[string]string),
		newID:  uuid.NewString,
	}
}

func (s *RefreshTokenStore) Insert(_ context.Context, t domain.NewRefreshToken) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(t)
}

func (s *RefreshTokenStore) FindByHash(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return nil, fmt.Errorf("refresh token: %w", apperrors.ErrNotFound)
	}
	return cloneToken(s.byID[id]), nil
}

func (s *RefreshTokenStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return apperrors.NotFound("refresh token", id)
	}
	if t.RevokedAt == nil {
		ts := at
		t.RevokedAt = &ts
	}
	return nil
}

func (s *RefreshTokenStore) Rotate(_ context.Context, predecessorID string, successor domain.NewRefreshToken, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pred, ok := s.byID[predecessorID]
	if !ok || pred.RevokedAt != nil || !at.Before(pred.ExpiresAt) {
		return "", apperrors.ErrConflict
	}

	id, err := s.insertLocked(successor)
	if err != nil {
		return "", err
	}
	ts := at
	pred.RevokedAt = &ts
	pred.ReplacedBy = &id
	return id, nil
}

func (s *RefreshTokenStore) RevokeAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.byID {
		if t.UserID == userID && t.RevokedAt == nil {
			ts := at
			t.RevokedAt = &ts
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) CountActiveForUser(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, t := range s.byID {
		if t.UserID == userID && t.State(at) == domain.TokenActive {
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) insertLocked(t domain.NewRefreshToken) (string, error) {
	if _, dup := s.byHash[t.TokenHash]; dup {
		return "", fmt.Errorf("insert refresh token: %w", apperrors.ErrAlreadyExists)
	}
	id := s.newID()
	s.byID[id] = &domain.RefreshToken{
		ID:        id,
		UserID:    t.UserID,
		TokenHash: t.TokenHash,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
	}
	s.byHash[t.TokenHash] = id
	return id, nil
}

func cloneToken(t *domain.RefreshToken) *domain.RefreshToken {
	cp := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		cp.RevokedAt = &at
	}
	if t.ReplacedBy != nil {
		id := *t.ReplacedBy
		cp.ReplacedBy = &id
	}
	return &cp
}
