package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL flavour spoken by the connected database.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DB wraps a database/sql pool together with its dialect. Queries in this
// package are written with '?' placeholders and rebound for postgres.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Connect opens a connection pool for dsn with conservative defaults and
// validates connectivity. postgres:// and postgresql:// go through pgx,
// sqlite://path and file:... through go-sqlite3.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}

	driver, source, dialect, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}

	// Reasonable defaults for small services; callers can override if needed.
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	if dialect == DialectSQLite && strings.Contains(source, ":memory:") {
		// every new connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Validate connectivity.
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{DB: sqlDB, Dialect: dialect}, nil
}

func parseDSN(dsn string) (driver, source string, dialect Dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, DialectPostgres, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", 0, errors.New("sqlite dsn without path")
		}
		return "sqlite3", sqliteSource("file:" + path), DialectSQLite, nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite3", sqliteSource(dsn), DialectSQLite, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported database url %q", dsn)
	}
}

// sqliteSource enables foreign keys and a busy timeout unless already set.
func sqliteSource(source string) string {
	sep := "?"
	if strings.Contains(source, "?") {
		sep = "&"
	}
	if !strings.Contains(source, "_foreign_keys") && !strings.Contains(source, "_fk") {
		source += sep + "_foreign_keys=on"
		sep = "&"
	}
	if !strings.Contains(source, "_busy_timeout") {
		source += sep + "_busy_timeout=5000"
	}
	return source
}

// Rebind converts '?' placeholders to the dialect's bind syntax.
func (db *DB) Rebind(query string) string {
	if db.Dialect != DialectPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// isUniqueViolation reports a unique constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// now is the timestamp written to created_at/updated_at columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
