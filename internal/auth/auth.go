// Package auth checks user credentials against a directory and tracks the
// login sessions issued to authenticated users.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/rolechat/internal/roles"
)

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so callers cannot probe for valid usernames.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch is returned when the credentials are valid but the
	// requested role is not the user's role.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrUserNotFound is returned by Directory.Lookup.
	ErrUserNotFound = errors.New("user not found")
)

// Credential is one directory record.
type Credential struct {
	Username string     `yaml:"username"`
	Password string     `yaml:"password"`
	Role     roles.Role `yaml:"role"`
}

// Directory looks up users by name.
type Directory interface {
	Lookup(username string) (Credential, error)
}

// StaticDirectory is an immutable, in-memory Directory.
type StaticDirectory struct {
	users map[string]Credential
}

// NewStaticDirectory validates creds and builds a directory from them.
func NewStaticDirectory(creds []Credential) (*StaticDirectory, error) {
	d := &StaticDirectory{users: make(map[string]Credential, len(creds))}
	for i, c := range creds {
		c.Username = strings.TrimSpace(c.Username)
		if c.Username == "" {
			return nil, fmt.Errorf("user %d: username is required", i)
		}
		if c.Password == "" {
			return nil, fmt.Errorf("user %q: password is required", c.Username)
		}
		role, err := roles.Parse(string(c.Role))
		if err != nil {
			return nil, fmt.Errorf("user %q: %w", c.Username, err)
		}
		c.Role = role
		if _, dup := d.users[c.Username]; dup {
			return nil, fmt.Errorf("user %q: duplicate entry", c.Username)
		}
		d.users[c.Username] = c
	}
	return d, nil
}

// DefaultUsers is the built-in demo directory.
func DefaultUsers() []Credential {
	return []Credential{
		{Username: "alice", Password: "1234", Role: roles.Engineering},
		{Username: "bob", Password: "abcd", Role: roles.HR},
		{Username: "charlie", Password: "xyz", Role: roles.Finance},
		{Username: "dana", Password: "mkt1", Role: roles.Marketing},
		{Username: "erin", Password: "gen1", Role: roles.General},
	}
}

// DefaultDirectory returns a directory holding DefaultUsers.
func DefaultDirectory() *StaticDirectory {
	d, err := NewStaticDirectory(DefaultUsers())
	if err != nil {
		panic(err)
	}
	return d
}

type usersFile struct {
	Users []Credential `yaml:"users"`
}

// LoadDirectory reads a YAML users file of the form
//
//	users:
//	  - username: alice
//	    password: "1234"
//	    role: engineering
func LoadDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing users file %s: %w", path, err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("users file %s defines no users", path)
	}
	return NewStaticDirectory(f.Users)
}

func (d *StaticDirectory) Lookup(username string) (Credential, error) {
	c, ok := d.users[username]
	if !ok {
		return Credential{}, ErrUserNotFound
	}
	return c, nil
}

// Len returns the number of users.
func (d *StaticDirectory) Len() int { return len(d.users) }

// Authenticate verifies username and password against dir and checks that
// the user holds role.
func Authenticate(dir Directory, username, password string, role roles.Role) (Credential, error) {
	c, err := dir.Lookup(username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Compare anyway so unknown users cost the same as wrong passwords.
			subtle.ConstantTimeCompare([]byte(password), []byte(password))
			return Credential{}, ErrInvalidCredentials
		}
		return Credential{}, fmt.Errorf("looking up user: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) != 1 {
		return Credential{}, ErrInvalidCredentials
	}
	if c.Role != role {
		return Credential{}, ErrRoleMismatch
	}
	return c, nil
}

// Principal is the identity bound to a login session.
type Principal struct {
	Username string
	Role     roles.Role
}

// Sessions maps issued session ids to principals. With an idle TTL, an id
// that has not been resolved for longer than the TTL stops resolving and is
// removed by Sweep.
type Sessions struct {
	idleTTL time.Duration
	now     func() time.Time

	mu  sync.Mutex
	ids map[string]*login
}

type login struct {
	principal Principal
	lastSeen  time.Time
}

// SessionsOption configures Sessions.
type SessionsOption func(*Sessions)

// WithIdleTTL expires ids idle for longer than d. Zero keeps ids until
// they are revoked.
func WithIdleTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) { s.idleTTL = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) SessionsOption {
	return func(s *Sessions) { s.now = now }
}

func NewSessions(opts ...SessionsOption) *Sessions {
	s := &Sessions{now: time.Now, ids: make(map[string]*login)}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sessions) expired(l *login, now time.Time) bool {
	return s.idleTTL > 0 && now.Sub(l.lastSeen) > s.idleTTL
}

// Issue creates a new session id bound to username and role.
func (s *Sessions) Issue(username string, role roles.Role) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.ids[id] = &login{principal: Principal{Username: username, Role: role}, lastSeen: s.now()}
	s.mu.Unlock()
	return id
}

// Resolve returns the principal bound to id and marks it as seen.
func (s *Sessions) Resolve(id string) (Principal, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.ids[id]
	if !ok {
		return Principal{}, false
	}
	if s.expired(l, now) {
		delete(s.ids, id)
		return Principal{}, false
	}
	l.lastSeen = now
	return l.principal, true
}

// Revoke forgets id and reports whether it was issued.
func (s *Sessions) Revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	delete(s.ids, id)
	return ok
}

// Len returns the number of live ids, expired ones included until swept.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Sweep removes ids idle past the TTL and returns how many were removed.
func (s *Sessions) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, l := range s.ids {
		if s.expired(l, now) {
			delete(s.ids, id)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *Sessions) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				slog.Debug("expired logins removed", "count", n)
			}
		}
	}
}
