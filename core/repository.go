package core

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UserRecord is the persisted user row including the password hash.
type UserRecord struct {
	ID           int64
	Email        string
	Nick         string
	PasswordHash string
	Provider     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User strips the credential material off the record.
func (r *UserRecord) User() User {
	return User{
		ID:        r.ID,
		Email:     r.Email,
		Nick:      r.Nick,
		Provider:  r.Provider,
		CreatedAt: r.CreatedAt,
	}
}

// NewUser carries the fields needed to register a user.
type NewUser struct {
	Email        string
	Nick         string
	PasswordHash string
	Provider     string
}

// UserRepository defines persistence operations for users. Soft-deleted
// users are invisible to every lookup.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	Create(ctx context.Context, u NewUser) (int64, error)
	SoftDelete(ctx context.Context, id int64) error
}

// SQLUserRepository implements UserRepository on DB.
type SQLUserRepository struct {
	db *DB
}

func NewSQLUserRepository(db *DB) *SQLUserRepository {
	return &SQLUserRepository{db: db}
}

const userColumns = `id, COALESCE(email, ''), nick, COALESCE(password_hash, ''), provider, created_at, updated_at`

func (r *SQLUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email=? AND deleted_at IS NULL`)
	return r.scanOne(r.db.QueryRowContext(ctx, q, email))
}

func (r *SQLUserRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id=? AND deleted_at IS NULL`)
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLUserRepository) scanOne(row *sql.Row) (*UserRecord, error) {
	var u UserRecord
	if err := row.Scan(&u.ID, &u.Email, &u.Nick, &u.PasswordHash, &u.Provider, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *SQLUserRepository) Create(ctx context.Context, u NewUser) (int64, error) {
	if u.Provider == "" {
		u.Provider = "local"
	}
	ts := now()
	q := r.db.Rebind(`INSERT INTO users (email, nick, password_hash, provider, created_at, updated_at) VALUES (?,?,?,?,?,?) RETURNING id`)
	var id int64
	if err := r.db.QueryRowContext(ctx, q, u.Email, u.Nick, u.PasswordHash, u.Provider, ts, ts).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

func (r *SQLUserRepository) SoftDelete(ctx context.Context, id int64) error {
	ts := now()
	q := r.db.Rebind(`UPDATE users SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`)
	res, err := r.db.ExecContext(ctx, q, ts, ts, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
