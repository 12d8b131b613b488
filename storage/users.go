package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"tasks-api/domain"
)

// DefaultBcryptCost is the work factor used for password hashes.
const DefaultBcryptCost = 10

// CredentialStore holds registered users and their bcrypt password hashes.
type CredentialStore struct {
	cost int

	mu     sync.RWMutex
	users  map[string]domain.User
	nextID int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewCredentialStore creates an empty store hashing with the given bcrypt cost. A cost
// outside bcrypt's range falls back to DefaultBcryptCost.
func NewCredentialStore(cost int) *CredentialStore {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &CredentialStore{
		cost:   cost,
		users:  make(map[string]domain.User),
		nextID: 1,
	}
}

// Register creates a user. Usernames are unique and compared exactly.
func (s *CredentialStore) Register(username, password string) (domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return domain.User{}, fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	if s.exists(username) {
		return domain.User{}, domain.ErrDuplicateUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.User{}, fmt.Errorf("%w: password is too long", domain.ErrInvalidInput)
		}
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return domain.User{}, domain.ErrDuplicateUsername
	}
	u := domain.User{ID: s.nextID, Username: username, PasswordHash: string(hash)}
	s.nextID++
	s.users[username] = u
	return u, nil
}

// VerifyCredentials returns the user when password matches. Unknown users and wrong
// passwords fail identically, and both pay for one bcrypt comparison.
func (s *CredentialStore) VerifyCredentials(username, password string) (domain.User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	hash := []byte(u.PasswordHash)
	if !ok {
		hash = s.fallbackHash()
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if !ok || err != nil {
		return domain.User{}, domain.ErrInvalidCredentials
	}
	return u, nil
}

// Count reports how many users are registered.
func (s *CredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *CredentialStore) exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

func (s *CredentialStore) fallbackHash() []byte {
	s.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("no-such-user"), s.cost)
		if err != nil {
			panic(fmt.Sprintf("bcrypt fallback hash: %v", err))
		}
		s.dummyHash = h
	})
	return s.dummyHash
}
