// Package user manages trading identities and their credentials. The engine
// never sees passwords; it only receives an authenticated user id from the
// submission boundary.
package user

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// User is a trading identity. Only the bcrypt hash of the password is kept.
type User struct {
	Name         string `json:"name"`
	PasswordHash string `json:"passwordHash"`
}

// Store persists users.
type Store interface {
	SaveUser(u *User) error
	// LoadUser returns nil when the user does not exist.
	LoadUser(name string) (*User, error)
}

// ErrBadCredentials is returned for unknown users and wrong passwords alike,
// so callers cannot probe which user names exist.
var ErrBadCredentials = errors.New("invalid username or password")

// dummyHash is compared against when the user does not exist. It carries the
// same cost as registered hashes so a failed lookup takes as long as a wrong
// password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("no-such-user"), bcrypt.DefaultCost)

// Manager caches users in memory on top of a Store.
type Manager struct {
	mu    sync.RWMutex
	users map[string]*User
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{
		users: make(map[string]*User),
		store: store,
	}
}

// Register creates a user with a freshly hashed password. Overwrites are
// rejected.
func (m *Manager) Register(name, password string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("user name must not be empty")
	}
	if existing, err := m.get(name); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("user %s already exists", name)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return m.put(&User{Name: name, PasswordHash: string(hash)})
}

// Authenticate verifies a name/password pair and returns the user id.
func (m *Manager) Authenticate(name, password string) (string, error) {
	u, err := m.get(name)
	if err != nil {
		return "", err
	}
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return "", ErrBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrBadCredentials
	}
	return u.Name, nil
}

// Exists reports whether a user is registered.
func (m *Manager) Exists(name string) (bool, error) {
	u, err := m.get(name)
	return u != nil, err
}

// Seed registers users from "name:bcrypt-hash" specs, skipping names that
// already exist. The hashes come from the passwd tool.
func (m *Manager) Seed(specs []string) error {
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		name, hash, ok := strings.Cut(spec, ":")
		if !ok || name == "" || hash == "" {
			return fmt.Errorf("malformed user spec %q (want name:bcrypt-hash)", spec)
		}
		existing, err := m.get(name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := m.put(&User{Name: name, PasswordHash: hash}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) get(name string) (*User, error) {
	m.mu.RLock()
	u, ok := m.users[name]
	m.mu.RUnlock()
	if ok {
		return u, nil
	}

	u, err := m.store.LoadUser(name)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", name, err)
	}
	if u == nil {
		return nil, nil
	}
	m.mu.Lock()
	m.users[name] = u
	m.mu.Unlock()
	return u, nil
}

func (m *Manager) put(u *User) error {
	if err := m.store.SaveUser(u); err != nil {
		return fmt.Errorf("save user %s: %w", u.Name, err)
	}
	m.mu.Lock()
	m.users[u.Name] = u
	m.mu.Unlock()
	return nil
}
