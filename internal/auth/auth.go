// Package auth implements the optional multi-user authentication surface
// (spec.md §6.5/§6.6): bcrypt-hashed local accounts and JWT session tokens
// for the admin UI, gating POST /api/auth/login, POST /api/auth/logout, and
// bearer-token access to GET /api/admin/*.
//
// This is local-network-scale auth for roughly a dozen users, following the
// source server's own AuthManager in spirit (one JSON file of accounts, one
// of active sessions, no external identity provider), but using the
// ecosystem's hashing and token libraries instead of hand-rolled salted
// SHA-256 and random tokens.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	usersFileName    = "users.json"
	sessionsFileName = "auth_sessions.json"

	// MinUsernameLen and MinPasswordLen mirror the source server's minimum
	// account requirements for this local-network-scale auth surface.
	MinUsernameLen = 2
	MinPasswordLen = 4
)

var (
	// ErrInvalidCredentials is returned by Login when the username is
	// unknown or the password does not match.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")

	// ErrUserExists is returned by CreateUser for a duplicate username.
	ErrUserExists = errors.New("auth: username already exists")

	// ErrInvalidToken is returned by Validate for an unparseable, expired,
	// or revoked token.
	ErrInvalidToken = errors.New("auth: invalid or expired token")

	// ErrWeakCredentials is returned by CreateUser when the username or
	// password is below the minimum length.
	ErrWeakCredentials = errors.New("auth: username or password too short")
)

// User is one local account.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// session tracks one issued, not-yet-revoked JWT by its jti claim so Logout
// can revoke a token that is otherwise self-verifying.
type session struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the persisted set of accounts and active sessions. Safe for
// concurrent use.
type Store struct {
	signingKey []byte
	tokenTTL   time.Duration
	dataDir    string

	mu       sync.Mutex
	users    map[string]User
	sessions map[string]session
}

// NewStore loads (or initializes) the user and session stores under
// dataDir. signingKey must be non-empty; tokenTTL bounds issued tokens'
// lifetime.
func NewStore(dataDir, signingKey string, tokenTTL time.Duration) (*Store, error) {
	if signingKey == "" {
		return nil, errors.New("auth: signing key must not be empty")
	}
	s := &Store{
		signingKey: []byte(signingKey),
		tokenTTL:   tokenTTL,
		dataDir:    dataDir,
		users:      make(map[string]User),
		sessions:   make(map[string]session),
	}
	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	if err := s.loadSessions(); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateUser adds a new local account with a bcrypt-hashed password.
func (s *Store) CreateUser(username, password string, isAdmin bool) error {
	username = normalizeUsername(username)
	if len(username) < MinUsernameLen || len(password) < MinPasswordLen {
		return ErrWeakCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	s.users[username] = User{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
		CreatedAt:    time.Now(),
	}
	return s.saveUsersLocked()
}

// claims is the JWT payload issued on successful login.
type claims struct {
	jwt.RegisteredClaims
	IsAdmin bool `json:"is_admin"`
}

// Login verifies username/password and, on success, issues a signed JWT
// bearer token recorded in the active session set.
func (s *Store) Login(username, password string) (token string, err error) {
	username = normalizeUsername(username)

	s.mu.Lock()
	user, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	jti := uuid.NewString()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IsAdmin: user.IsAdmin,
	})
	signed, err := tok.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	s.mu.Lock()
	s.sessions[jti] = session{Username: username, ExpiresAt: expiresAt}
	user.LastLogin = now
	s.users[username] = user
	err = errors.Join(s.saveSessionsLocked(), s.saveUsersLocked())
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Logout revokes the session backing token, if any. Never returns an error
// for an already-invalid token — logging out twice is a no-op.
func (s *Store) Logout(token string) error {
	parsed, err := s.parse(token)
	if err != nil {
		return nil
	}
	jti := parsed.ID

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, jti)
	return s.saveSessionsLocked()
}

// Validate verifies token's signature and expiry and checks it has not
// been revoked by Logout, returning the authenticated username and whether
// that user is an admin.
func (s *Store) Validate(token string) (username string, isAdmin bool, err error) {
	parsed, err := s.parse(token)
	if err != nil {
		return "", false, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[parsed.ID]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return "", false, ErrInvalidToken
	}
	return parsed.Subject, parsed.IsAdmin, nil
}

func (s *Store) parse(token string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Store) loadUsers() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, usersFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: read users file: %w", err)
	}
	var users map[string]User
	if err := json.Unmarshal(data, &users); err != nil {
		return fmt.Errorf("auth: parse users file: %w", err)
	}
	s.users = users
	return nil
}

func (s *Store) loadSessions() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, sessionsFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: read sessions file: %w", err)
	}
	var sessions map[string]session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("auth: parse sessions file: %w", err)
	}
	now := time.Now()
	for jti, sess := range sessions {
		if sess.ExpiresAt.After(now) {
			s.sessions[jti] = sess
		}
	}
	return nil
}

// saveUsersLocked and saveSessionsLocked must be called with s.mu held.

func (s *Store) saveUsersLocked() error {
	if s.dataDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal users: %w", err)
	}
	return atomicWriteFile(filepath.Join(s.dataDir, usersFileName), data)
}

func (s *Store) saveSessionsLocked() error {
	if s.dataDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: marshal sessions: %w", err)
	}
	return atomicWriteFile(filepath.Join(s.dataDir, sessionsFileName), data)
}

// atomicWriteFile writes data to path via a same-directory temp file and
// rename, matching the write-rename discipline §6.6 requires of every
// persisted-state write in felix.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("auth: create data dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-*.tmp")
	if err != nil {
		return fmt.Errorf("auth: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("auth: rename into place: %w", err)
	}
	return nil
}
