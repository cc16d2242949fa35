package core

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const LocalStrategyName = "local"

// LocalStrategy verifies an email/password pair against the user repository.
type LocalStrategy struct {
	users UserRepository
}

func NewLocalStrategy(users UserRepository) *LocalStrategy {
	return &LocalStrategy{users: users}
}

func (s *LocalStrategy) Name() string { return LocalStrategyName }

// Verify returns *AuthFailure for unknown emails and wrong passwords alike.
func (s *LocalStrategy) Verify(ctx context.Context, creds Credentials) (User, error) {
	email := strings.TrimSpace(creds.Identifier)
	if email == "" || creds.Secret == "" {
		return User{}, &AuthFailure{Reason: "missing credentials"}
	}

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, &AuthFailure{Reason: "invalid email or password"}
	}
	if err != nil {
		return User{}, err
	}
	if u.PasswordHash == "" || !checkPassword(creds.Secret, u.PasswordHash) {
		return User{}, &AuthFailure{Reason: "invalid email or password"}
	}
	return u.User(), nil
}

// AccountService registers local accounts.
type AccountService struct {
	users UserRepository
	cost  int
}

func NewAccountService(users UserRepository) *AccountService {
	return &AccountService{users: users, cost: bcrypt.DefaultCost}
}

// Register hashes password and persists a new local user. An email already
// in use yields ErrUserExists.
func (s *AccountService) Register(ctx context.Context, email, nick, password string) (int64, error) {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return 0, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return 0, err
	}
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return 0, err
	}
	return s.users.Create(ctx, NewUser{Email: email, Nick: nick, PasswordHash: hash, Provider: LocalStrategyName})
}

// hashPassword creates a bcrypt hash of the password
func hashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

// checkPassword checks if password matches hash
func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
