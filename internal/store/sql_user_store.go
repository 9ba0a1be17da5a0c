package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/id"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const userSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// SQLUserStore keeps users in Postgres (lib/pq) or SQLite (modernc).
type SQLUserStore struct {
	db     *sql.DB
	driver string
}

// Open connects to driver/dsn, pings it and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A ":memory:" database lives only as long as its connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func NewSQLUserStore(ctx context.Context, db *sql.DB, driver string) (*SQLUserStore, error) {
	s := &SQLUserStore{db: db, driver: driver}
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLUserStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, userSchemaSQL); err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

func (s *SQLUserStore) Create(ctx context.Context, email, passwordHash string) (domain.User, error) {
	user := domain.User{
		ID:           id.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(
		ctx,
		Rebind(s.driver, `INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`),
		user.ID,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, &domain.StorageError{Op: "insert user", Err: err}
	}
	return user, nil
}

func (s *SQLUserStore) FindByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var user domain.User
	err := s.db.QueryRowContext(
		ctx,
		Rebind(s.driver, `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`),
		email,
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, &domain.StorageError{Op: "select user", Err: err}
	}
	return user, true, nil
}

// Rebind rewrites ? placeholders to $N for Postgres.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
