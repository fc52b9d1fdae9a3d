// Package auth covers the single-admin PIN credential and the in-memory
// session table behind the control API.
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-password/password"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

// GeneratePIN returns a fresh 6-digit admin PIN.
func GeneratePIN() (string, error) {
	return password.Generate(6, 6, 0, false, true)
}

// GenerateToken returns a 32-character API token.
func GenerateToken() (string, error) {
	return password.Generate(32, 10, 0, true, true)
}

// HashPIN produces the bcrypt hash persisted in settings.
func HashPIN(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// VerifyPIN reports whether pin matches the stored hash.
func VerifyPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// Sessions is the admin session table. Sessions are process-local; a
// restart logs everyone out.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewSessions() *Sessions {
	return &Sessions{entries: make(map[string]time.Time)}
}

// Create mints a session token.
func (s *Sessions) Create() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.entries[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

// Valid checks and refreshes a session.
func (s *Sessions) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.entries[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.entries, token)
		return false
	}
	s.entries[token] = time.Now().Add(sessionTTL)
	return true
}

// Revoke drops a session.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	delete(s.entries, token)
	s.mu.Unlock()
}
