package core

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Column limits enforced before insert so oversize input is a client error.
const (
	maxEmailLen = 40
	maxNickLen  = 15
	maxImgLen   = 200
)

func tooLong(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}

// Schema statements only ever create missing objects; existing tables and
// their rows are left untouched.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         VARCHAR(40) UNIQUE,
	nick          VARCHAR(15) NOT NULL,
	password_hash VARCHAR(100),
	provider      VARCHAR(10) NOT NULL DEFAULT 'local',
	sns_id        VARCHAR(30),
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	deleted_at    TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS posts (
	id         BIGSERIAL PRIMARY KEY,
	content    VARCHAR(140) NOT NULL,
	img        VARCHAR(200) NOT NULL DEFAULT '',
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS posts_user_id_idx ON posts (user_id)`,
	`CREATE TABLE IF NOT EXISTS hashtags (
	id         BIGSERIAL PRIMARY KEY,
	title      VARCHAR(15) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS post_hashtags (
	post_id    BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	hashtag_id BIGINT NOT NULL REFERENCES hashtags(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, hashtag_id)
)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT UNIQUE,
	nick          TEXT NOT NULL,
	password_hash TEXT,
	provider      TEXT NOT NULL DEFAULT 'local',
	sns_id        TEXT,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	deleted_at    DATETIME
)`,
	`CREATE TABLE IF NOT EXISTS posts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	content    TEXT NOT NULL,
	img        TEXT NOT NULL DEFAULT '',
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS posts_user_id_idx ON posts (user_id)`,
	`CREATE TABLE IF NOT EXISTS hashtags (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS post_hashtags (
	post_id    INTEGER NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	hashtag_id INTEGER NOT NULL REFERENCES hashtags(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, hashtag_id)
)`,
}

// SyncSchema creates any missing tables and indexes. It never drops or
// alters existing objects, so it is safe to run on every start.
func SyncSchema(ctx context.Context, db *DB) error {
	stmts := sqliteSchema
	if db.Dialect == DialectPostgres {
		stmts = postgresSchema
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// InitPersistence connects and synchronizes the schema, logging the outcome.
// A sync failure is logged and returned; the caller decides whether to keep
// serving with the open pool.
func InitPersistence(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	db, err := Connect(ctx, dsn)
	if err != nil {
		logger.Error("database connection failed", zap.Error(err))
		return nil, err
	}
	if err := SyncSchema(ctx, db); err != nil {
		logger.Error("database schema sync failed", zap.String("dialect", db.Dialect.String()), zap.Error(err))
		return db, err
	}
	logger.Info("database connected", zap.String("dialect", db.Dialect.String()))
	return db, nil
}
