package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/id"
)

type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]domain.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byEmail: make(map[string]domain.User),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, email, passwordHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return domain.User{}, domain.ErrUserExists
	}
	user := domain.User{
		ID:           id.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.byEmail[email] = user
	return user, nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (domain.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byEmail[email]
	return user, ok, nil
}
