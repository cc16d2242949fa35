package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// User represents an authenticated principal returned to handlers and views.
type User struct {
	ID        int64
	Email     string
	Nick      string
	Provider  string
	CreatedAt time.Time
}

var (
	// ErrInvalidCredentials is returned when email/password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned when no live user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an email that is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUnknownStrategy is returned when authenticating with an unregistered strategy.
	ErrUnknownStrategy = errors.New("unknown authentication strategy")
)

// Credentials is what a login form submits.
type Credentials struct {
	Identifier string
	Secret     string
}

// AuthFailure is an in-band verification failure. It is not an internal
// error: the login route turns it into a redirect with Reason shown to the user.
type AuthFailure struct {
	Reason string
}

func (f *AuthFailure) Error() string { return "authentication failed: " + f.Reason }

// Strategy verifies credentials against some source of truth.
type Strategy interface {
	Name() string
	Verify(ctx context.Context, creds Credentials) (User, error)
}

// Authenticator registers strategies and bridges users to the reference
// stored in a session.
type Authenticator struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	users      UserRepository
}

func NewAuthenticator(users UserRepository) *Authenticator {
	return &Authenticator{strategies: make(map[string]Strategy), users: users}
}

// Use registers s under its name, replacing any previous strategy of that name.
func (a *Authenticator) Use(s Strategy) *Authenticator {
	a.mu.Lock()
	a.strategies[s.Name()] = s
	a.mu.Unlock()
	return a
}

// Authenticate runs the named strategy. Bad credentials come back as
// *AuthFailure; anything else is an internal error.
func (a *Authenticator) Authenticate(ctx context.Context, strategy string, creds Credentials) (User, error) {
	a.mu.RLock()
	s, ok := a.strategies[strategy]
	a.mu.RUnlock()
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
	return s.Verify(ctx, creds)
}

// Serialize returns the reference kept in the session for u.
func (a *Authenticator) Serialize(u User) int64 {
	return u.ID
}

// Deserialize loads the user behind a session reference. Stale references
// (deleted or unknown users) yield ErrUserNotFound.
func (a *Authenticator) Deserialize(ctx context.Context, ref int64) (*User, error) {
	if ref <= 0 {
		return nil, ErrUserNotFound
	}
	rec, err := a.users.FindByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	u := rec.User()
	return &u, nil
}
