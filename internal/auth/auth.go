// Package auth holds the credential table, the session table and the
// login rate limiter.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("missing or invalid token")
)

// Credentials maps usernames to bcrypt password hashes.
type Credentials struct {
	hashes map[string][]byte
	// dummy is compared against for unknown users so lookups of missing
	// names cost the same as wrong passwords.
	dummy []byte
}

// NewCredentials hashes every plaintext password in users. cost of 0
// selects bcrypt.DefaultCost.
func NewCredentials(users map[string]string, cost int) (*Credentials, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	c := &Credentials{hashes: make(map[string][]byte, len(users))}
	for name, password := range users {
		h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", name, err)
		}
		c.hashes[name] = h
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder: %w", err)
	}
	c.dummy = dummy
	return c, nil
}

// Verify returns ErrInvalidCredentials unless password matches username.
func (c *Credentials) Verify(username, password string) error {
	h, ok := c.hashes[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(c.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(h, []byte(password)) != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Session is what a token resolves to.
type Session struct {
	Created time.Time `json:"created"`
	User    string    `json:"user"`
}

// Sessions is the token table. Tokens never expire for the life of the
// process.
type Sessions struct {
	tokens map[string]Session
	now    func() time.Time
	mu     sync.RWMutex
}

func NewSessions() *Sessions {
	return &Sessions{tokens: make(map[string]Session), now: time.Now}
}

// Issue mints a fresh opaque token for user.
func (s *Sessions) Issue(user string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.tokens[token] = Session{User: user, Created: s.now().UTC()}
	s.mu.Unlock()
	return token
}

func (s *Sessions) Resolve(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.tokens[token]
	return sess, ok
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// Authenticator ties credentials to sessions.
type Authenticator struct {
	creds    *Credentials
	sessions *Sessions
}

func NewAuthenticator(creds *Credentials, sessions *Sessions) *Authenticator {
	return &Authenticator{creds: creds, sessions: sessions}
}

// Login issues a token iff the username/password pair matches.
func (a *Authenticator) Login(username, password string) (string, error) {
	if err := a.creds.Verify(username, password); err != nil {
		return "", err
	}
	return a.sessions.Issue(username), nil
}

// Authenticate resolves the request's bearer token to a username.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	token, ok := BearerToken(r)
	if !ok {
		return "", ErrUnauthenticated
	}
	sess, ok := a.sessions.Resolve(token)
	if !ok {
		return "", ErrUnauthenticated
	}
	return sess.User, nil
}

func (a *Authenticator) Sessions() *Sessions {
	return a.sessions
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
