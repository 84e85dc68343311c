// Package userstore is a flat-file JSON user store with soft deletes.
//
// The store owns credentials and tier assignment; the retrieval core
// only ever reads a user's identity and tier. Passwords are stored as
// bcrypt hashes. A user with a deletion timestamp authenticates as
// non-existent.
package userstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserExists is returned when creating a user that already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when a user is absent or soft-deleted.
	ErrUserNotFound = errors.New("user not found")
)

// User is an account the service authenticates.
type User struct {
	Username    string `json:"-"`
	AccessLevel string `json:"access_level"`

	// PasswordHash is the bcrypt hash of the credential secret.
	PasswordHash string `json:"password"`

	CreatedAt time.Time `json:"created_at"`

	// DeletedAt marks a soft delete. Nil means active.
	DeletedAt *time.Time `json:"deleted_at"`
}

// Store reads and writes the user file. Safe for concurrent use.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	users map[string]*User
}

// seedUser is a default account written the first time the store opens
// against a missing file.
type seedUser struct {
	username, password, tier string
}

var defaultSeeds = []seedUser{
	{"no_user", "no_password", "low"},
	{"moshu", "admin123", "med"},
	{"root", "admin123", "high"},
}

// Open loads the user file at path, seeding default accounts when the
// file does not exist yet.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		path:   path,
		logger: logger,
		users:  make(map[string]*User),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.seed(); err != nil {
			return nil, fmt.Errorf("seeding default users: %w", err)
		}
		logger.Info("seeded default users", zap.String("path", path))
	case err != nil:
		return nil, fmt.Errorf("reading user file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.users); err != nil {
			return nil, fmt.Errorf("parsing user file %s: %w", path, err)
		}
		for name, u := range s.users {
			u.Username = name
		}
	}

	return s, nil
}

func (s *Store) seed() error {
	now := time.Now().UTC()
	for _, seed := range defaultSeeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing password for %s: %w", seed.username, err)
		}
		s.users[seed.username] = &User{
			Username:     seed.username,
			AccessLevel:  seed.tier,
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
	}
	return s.save()
}

// save writes the user map back to disk. Caller must hold mu (or be
// the only reference, as during Open).
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding users: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing user file %s: %w", s.path, err)
	}
	return nil
}

// Get returns the user by name, or nil when absent or soft-deleted.
func (s *Store) Get(username string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || u.DeletedAt != nil {
		return nil
	}
	copied := *u
	return &copied
}

// Verify checks a username/password pair and returns the user when the
// credentials match an active account, nil otherwise.
func (s *Store) Verify(username, password string) *User {
	u := s.Get(username)
	if u == nil {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.logger.Debug("password mismatch", zap.String("username", username))
		return nil
	}
	return u
}

// Create adds a new active user with the given tier.
func (s *Store) Create(username, password, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[username]; ok && u.DeletedAt == nil {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	s.users[username] = &User{
		Username:     username,
		AccessLevel:  tier,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	return s.save()
}

// Delete soft-deletes a user. The record stays in the file with its
// deletion timestamp; the account is treated as absent from then on.
func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || u.DeletedAt != nil {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	now := time.Now().UTC()
	u.DeletedAt = &now
	return s.save()
}
